package history

import (
	"plantdoc-server-go/src/classify"
	"plantdoc-server-go/src/models"
)

// SummaryItem 历史列表中的一行
type SummaryItem struct {
	Index int    `json:"index"` // 按投递顺序的展示序号，从1开始
	Title string `json:"title"` // 结果中的标识字段，通常是病害名
}

// FieldPair 详情页中的一个标签/值对
type FieldPair struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Summary 把记录集渲染为摘要列表
// 序号来自记录在投递序列中的位置，不依赖创建时间
func Summary(records []models.HistoryRecord) []SummaryItem {
	items := make([]SummaryItem, 0, len(records))
	for i, record := range records {
		items = append(items, SummaryItem{
			Index: i + 1,
			Title: titleOf(record),
		})
	}
	return items
}

// titleOf 优先取disease_name，没有就取第一个字段，原始文本直接展示
func titleOf(record models.HistoryRecord) string {
	result := classify.FromStoredJSON(record.Result)
	if result.IsRaw() {
		return result.Raw()
	}
	if name, ok := result.Get("disease_name"); ok {
		return name
	}
	if fields := result.Fields(); len(fields) > 0 {
		return fields[0].Value
	}
	return ""
}

// Detail 渲染一条记录的全部字段
// 字段集合不固定，按存储顺序逐个输出
func Detail(record models.HistoryRecord) []FieldPair {
	result := classify.FromStoredJSON(record.Result)
	if result.IsRaw() {
		return []FieldPair{{Label: "response", Value: result.Raw()}}
	}

	fields := result.Fields()
	pairs := make([]FieldPair, 0, len(fields))
	for _, f := range fields {
		pairs = append(pairs, FieldPair{Label: f.Key, Value: f.Value})
	}
	return pairs
}

// View 历史视图的本地状态：当前记录集、选中项和详情可见性
type View struct {
	records       []models.HistoryRecord
	selected      int
	detailVisible bool
}

// NewView 创建空视图
func NewView() *View {
	return &View{selected: -1}
}

// Apply 用一次订阅投递刷新记录集
// 之前的选中项若已越界则清除
func (v *View) Apply(delivery Delivery) {
	v.records = delivery.Records
	if v.selected >= len(v.records) {
		v.selected = -1
		v.detailVisible = false
	}
}

// Summary 当前记录集的摘要列表
func (v *View) Summary() []SummaryItem {
	return Summary(v.records)
}

// Select 选中一条记录并打开详情，重复选中同一条只是再次打开详情
func (v *View) Select(index int) bool {
	if index < 0 || index >= len(v.records) {
		return false
	}
	v.selected = index
	v.detailVisible = true
	return true
}

// SelectedDetail 当前选中记录的详情
func (v *View) SelectedDetail() ([]FieldPair, bool) {
	if !v.detailVisible || v.selected < 0 || v.selected >= len(v.records) {
		return nil, false
	}
	return Detail(v.records[v.selected]), true
}

// CloseDetail 关闭详情，保留选中项
func (v *View) CloseDetail() {
	v.detailVisible = false
}
