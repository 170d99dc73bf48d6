package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Field 诊断结果中的一个字段
type Field struct {
	Key   string
	Value string
}

// Result 远程分类接口返回的诊断结果
// 按服务端返回顺序保存字段，不假定固定的字段集合；
// 无法解析为JSON对象的响应体以原始文本形式保留，渲染端必须能直接展示
type Result struct {
	fields []Field
	raw    string
	isRaw  bool
}

// ParseResult 解析响应体
// 合法的JSON对象逐字段按序读取，其余内容一律降级为原始文本（不是错误）
func ParseResult(body []byte) *Result {
	fields, err := decodeOrderedObject(body)
	if err != nil {
		return &Result{raw: string(body), isRaw: true}
	}
	return &Result{fields: fields}
}

// decodeOrderedObject 按出现顺序解码一个扁平JSON对象
func decodeOrderedObject(body []byte) ([]Field, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("响应不是JSON对象")
	}

	var fields []Field
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("非法的字段名")
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}

		fields = append(fields, Field{Key: key, Value: rawToString(raw)})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	// 对象后不允许再有内容
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("对象之后存在多余内容")
	}

	return fields, nil
}

// rawToString 字符串值取其内容，其余值保留JSON文本
func rawToString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err == nil {
		return compact.String()
	}
	return string(trimmed)
}

// IsRaw 响应体是否是无法解析的原始文本
func (r *Result) IsRaw() bool {
	return r.isRaw
}

// Raw 返回原始文本
func (r *Result) Raw() string {
	return r.raw
}

// Fields 按服务端返回顺序返回所有字段
func (r *Result) Fields() []Field {
	return r.fields
}

// Get 按字段名查找
func (r *Result) Get(key string) (string, bool) {
	for _, f := range r.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// JSON 序列化为持久化用的JSON，字段顺序与返回顺序一致
// 原始文本模式编码为JSON字符串
func (r *Result) JSON() []byte {
	if r.isRaw {
		data, _ := json.Marshal(r.raw)
		return data
	}

	var b strings.Builder
	b.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			b.WriteByte(',')
		}
		key, _ := json.Marshal(f.Key)
		value, _ := json.Marshal(f.Value)
		b.Write(key)
		b.WriteByte(':')
		b.Write(value)
	}
	b.WriteByte('}')
	return []byte(b.String())
}

// FromStoredJSON 从持久化的JSON还原诊断结果
func FromStoredJSON(data []byte) *Result {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return &Result{raw: s, isRaw: true}
		}
	}
	return ParseResult(data)
}
