package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/psyclass/internal/model"
)

// PrimingPrompt is the first user turn of every conversation. It declares the
// dimensions and the exact reply shape.
func PrimingPrompt() string {
	var b strings.Builder

	b.WriteString("你是一名心理学分析专家。接下来我会提供一条微博热搜的标题，以及该热搜下的一条评论。")
	b.WriteString("请根据这些信息对评论进行心理学分析，并按以下十一个维度分别打分。\n\n")

	b.WriteString("维度：\n")
	for i, d := range model.ClinicalDimensions() {
		fmt.Fprintf(&b, "%d: %s\n", i+1, d)
	}
	fmt.Fprintf(&b, "%d: %s\n\n", len(model.ClinicalDimensions())+1, model.DimNegativity)

	fmt.Fprintf(&b, "评分规则：每个维度给出 %d-%d 的整数。1 表示可能性最小，%d 表示可能性最大；", model.MinScore, model.MaxScore, model.MaxScore)
	b.WriteString("如果某个维度不适用或没有明显迹象，请使用 0。\n\n")

	b.WriteString("输入格式：\n")
	b.WriteString(`{"title": "微博热搜标题", "comment": "热搜下的一条微博评论"}`)
	b.WriteString("\n\n")

	b.WriteString("输出格式（只输出下面这一个 JSON 对象，必须包含全部十一个键，不要输出任何其他内容）：\n")
	b.WriteString(outputTemplate())

	return b.String()
}

func outputTemplate() string {
	dims := model.Dimensions()
	var b strings.Builder
	b.WriteString("{\n")
	for i, d := range dims {
		fmt.Fprintf(&b, "  %q: 0", string(d))
		if i < len(dims)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String()
}

// queryMessage serializes q as the user turn content
func queryMessage(q model.Query) (string, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("marshal query: %w", err)
	}
	return string(data), nil
}
