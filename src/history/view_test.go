package history

import (
	"reflect"
	"testing"

	"plantdoc-server-go/src/models"

	"gorm.io/datatypes"
)

func record(result string) models.HistoryRecord {
	return models.HistoryRecord{OwnerIdentity: "u1", Result: datatypes.JSON(result)}
}

func TestSummary_标题选取(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   string
	}{
		{name: "取disease_name", result: `{"disease_name":"Aphid","symptoms":"..."}`, want: "Aphid"},
		{name: "没有disease_name取第一个字段", result: `{"pest":"Whitefly","notes":"..."}`, want: "Whitefly"},
		{name: "原始文本直接展示", result: `疑似蚜虫危害`, want: "疑似蚜虫危害"},
		{name: "空对象", result: `{}`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := Summary([]models.HistoryRecord{record(tt.result)})
			if len(items) != 1 {
				t.Fatalf("摘要条数 = %d", len(items))
			}
			if items[0].Index != 1 {
				t.Errorf("Index = %d, want 1", items[0].Index)
			}
			if items[0].Title != tt.want {
				t.Errorf("Title = %q, want %q", items[0].Title, tt.want)
			}
		})
	}
}

func TestSummary_序号按投递顺序(t *testing.T) {
	records := []models.HistoryRecord{
		record(`{"disease_name":"甲"}`),
		record(`{"disease_name":"乙"}`),
		record(`{"disease_name":"丙"}`),
	}
	items := Summary(records)
	for i, item := range items {
		if item.Index != i+1 {
			t.Errorf("第%d项序号 = %d", i, item.Index)
		}
	}
}

func TestDetail_字段集合不固定(t *testing.T) {
	pairs := Detail(record(`{"disease_name":"Aphid","host_plant":"tomato","severity":"high"}`))
	want := []FieldPair{
		{Label: "disease_name", Value: "Aphid"},
		{Label: "host_plant", Value: "tomato"},
		{Label: "severity", Value: "high"},
	}
	if !reflect.DeepEqual(pairs, want) {
		t.Errorf("Detail = %+v, want %+v", pairs, want)
	}
}

func TestDetail_原始文本记录(t *testing.T) {
	pairs := Detail(record(`这不是JSON`))
	if len(pairs) != 1 || pairs[0].Label != "response" || pairs[0].Value != "这不是JSON" {
		t.Errorf("Detail = %+v", pairs)
	}
}

func TestView_选中与详情(t *testing.T) {
	v := NewView()
	v.Apply(Delivery{Records: []models.HistoryRecord{
		record(`{"disease_name":"Aphid"}`),
		record(`{"disease_name":"Rust"}`),
	}})

	if _, ok := v.SelectedDetail(); ok {
		t.Error("未选中时不应有详情")
	}

	if !v.Select(1) {
		t.Fatal("选中有效下标失败")
	}
	detail, ok := v.SelectedDetail()
	if !ok || detail[0].Value != "Rust" {
		t.Errorf("详情 = %+v, ok = %v", detail, ok)
	}

	// 重复选中同一条只是再次打开详情
	v.CloseDetail()
	if _, ok := v.SelectedDetail(); ok {
		t.Error("关闭后不应有详情")
	}
	if !v.Select(1) {
		t.Fatal("重复选中失败")
	}
	if _, ok := v.SelectedDetail(); !ok {
		t.Error("重复选中应重新打开详情")
	}

	if v.Select(5) {
		t.Error("越界下标不应选中成功")
	}
}

func TestView_刷新后越界选中被清除(t *testing.T) {
	v := NewView()
	v.Apply(Delivery{Records: []models.HistoryRecord{
		record(`{"disease_name":"甲"}`),
		record(`{"disease_name":"乙"}`),
	}})
	v.Select(1)

	v.Apply(Delivery{Records: []models.HistoryRecord{
		record(`{"disease_name":"甲"}`),
	}})
	if _, ok := v.SelectedDetail(); ok {
		t.Error("记录集收缩后越界选中应被清除")
	}

	if len(v.Summary()) != 1 {
		t.Errorf("摘要条数 = %d, want 1", len(v.Summary()))
	}
}
