package classifier

import (
	"regexp"
	"strings"
)

// DiagnosisResponse 诊断结果，扁平的字符串字段集合
type DiagnosisResponse struct {
	DiseaseName              string `json:"disease_name"`
	Symptoms                 string `json:"symptoms"`
	Causes                   string `json:"causes"`
	RecommendedSolutions     string `json:"recommended_solutions"`
	PesticideRecommendations string `json:"pesticide_recommendations"`
}

const (
	missingEnglish = "No relevant information found"
	missingUrdu    = "کوئی متعلقہ معلومات دستیاب نہیں"
)

// buildPrompt 构造植物病害诊断提示词
// 要求模型按固定小节作答，便于后续正则抽取
func buildPrompt(language string) string {
	languageNote := "IMPORTANT: Provide the response in clear, concise, and easy-to-understand English. " +
		"If any section lacks data, write 'No relevant information found'."
	if strings.EqualFold(language, "urdu") {
		languageNote = "Very IMPORTANT: Provide your entire response in easy-to-understand Urdu. " +
			"Use simple, clear sentences so the user can understand without difficulty."
	}

	return `You are an expert in plant diseases and management. Examine the attached photo of a plant
and identify the pest or disease affecting it. Combine what you observe in the image with your
expert knowledge of plant science and plant disease management to craft a comprehensive yet
user-friendly explanation. You must address each of the following sections thoroughly:

1. Disease Name: Name the identified disease or pest.
2. Symptoms: List known symptoms for the identified disease.
3. Causes: Describe the causes for the identified disease.
4. Recommended Solutions: Provide actionable solutions that a farmer could realistically implement.
5. Pesticide Recommendations: Suggest appropriate pesticides with usage instructions and safety precautions.

If you do not have enough details for a given section, clearly say 'No relevant information found'
(or use 'کوئی متعلقہ معلومات دستیاب نہیں' if responding in Urdu).

` + languageNote + `

Note: You must provide a direct answer for each section:
'Disease Name:', 'Symptoms:', 'Causes:', 'Recommended Solutions:', and 'Pesticide Recommendations:'.
Do not leave any section empty or missing. Write each section as plain sentences on a single line.`
}

// 小节标题，抽取时互为边界
var sectionTitles = []string{
	"Disease Name",
	"Symptoms",
	"Causes",
	"Recommended Solutions",
	"Pesticide Recommendations",
}

// ExtractSections 从模型回复中抽取各小节内容
// 缺失的小节按语言填充占位文本
func ExtractSections(text, language string) *DiagnosisResponse {
	missing := missingEnglish
	if strings.EqualFold(language, "urdu") {
		missing = missingUrdu
	}

	return &DiagnosisResponse{
		DiseaseName:              extractSection(text, "Disease Name", missing),
		Symptoms:                 extractSection(text, "Symptoms", missing),
		Causes:                   extractSection(text, "Causes", missing),
		RecommendedSolutions:     extractSection(text, "Recommended Solutions", missing),
		PesticideRecommendations: extractSection(text, "Pesticide Recommendations", missing),
	}
}

// extractSection 抽取一个小节，到下一个小节标题或文本结尾为止
func extractSection(text, title, missing string) string {
	boundaries := make([]string, 0, len(sectionTitles)-1)
	for _, other := range sectionTitles {
		if other != title {
			boundaries = append(boundaries, regexp.QuoteMeta(other)+":")
		}
	}

	pattern := regexp.MustCompile(`(?s)` + regexp.QuoteMeta(title) + `:\s*(.*?)(?:` + strings.Join(boundaries, "|") + `|$)`)
	match := pattern.FindStringSubmatch(text)
	if match == nil {
		return missing
	}

	value := strings.TrimSpace(match[1])
	// 去掉模型加的markdown修饰
	value = strings.Trim(value, "*#- \n\t")
	if value == "" {
		return missing
	}
	return value
}
