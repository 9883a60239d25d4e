package gemini

import (
	"fmt"
	"strings"
)

// Mode 决定结果中需要填充的字段
type Mode string

const (
	ModeFull           Mode = "FULL"
	ModeNotesOnly      Mode = "NOTES_ONLY"
	ModeTranscriptOnly Mode = "TRANSCRIPT_ONLY"
)

// ParseMode 大小写不敏感地解析模式
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ModeFull, ModeNotesOnly, ModeTranscriptOnly:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

func (m Mode) wantsTranscript() bool { return m == ModeFull || m == ModeTranscriptOnly }
func (m Mode) wantsNotes() bool      { return m == ModeFull || m == ModeNotesOnly }

// EmptyResult 后端成功返回但没有文本时使用的结果
const EmptyResult = "{}"

// BuildPrompt 生成与模式对应的指令
func BuildPrompt(mode Mode) string {
	var b strings.Builder
	b.WriteString("You are an expert meeting assistant. Listen to the attached meeting recording and respond with a single JSON object that matches the response schema.\n\n")
	b.WriteString("General rules:\n")
	b.WriteString("- Detect the spoken language automatically and write every field in that language.\n")
	b.WriteString("- If the recording is silent, contains only noise, or has no intelligible speech, return empty strings and empty arrays instead of inventing content.\n")
	b.WriteString("- Never fabricate speakers, decisions or facts that are not in the audio.\n\n")

	b.WriteString("Fields:\n")
	if mode.wantsTranscript() {
		b.WriteString("- transcription: a complete, verbatim transcript. Start a new paragraph when the speaker changes and label speakers when they can be distinguished.\n")
	} else {
		b.WriteString("- transcription: leave as an empty string.\n")
	}
	if mode.wantsNotes() {
		b.WriteString("- summary: a comprehensive summary covering every topic discussed, the context, the arguments raised and the outcome of each topic. Do not shorten it to a few sentences when the meeting covered more.\n")
		b.WriteString("- conclusions: every decision, agreement and key insight reached, one per entry, each self-contained.\n")
		b.WriteString("- actionItems: only tasks that were explicitly assigned to a person or group during the meeting, written as \"<owner>: <task>\" with the deadline when one was stated. Do not turn general suggestions or open ideas into action items. Return an empty array when nothing was assigned.\n")
	} else {
		b.WriteString("- summary: leave as an empty string.\n")
		b.WriteString("- conclusions: leave as an empty array.\n")
		b.WriteString("- actionItems: leave as an empty array.\n")
	}
	return b.String()
}

type schema struct {
	Type       string             `json:"type"`
	Properties map[string]*schema `json:"properties,omitempty"`
	Items      *schema            `json:"items,omitempty"`
	Required   []string           `json:"required,omitempty"`
	Ordering   []string           `json:"propertyOrdering,omitempty"`
}

// responseSchema 输出结构：transcription, summary, conclusions[], actionItems[]
func responseSchema() *schema {
	fields := []string{"transcription", "summary", "conclusions", "actionItems"}
	return &schema{
		Type: "OBJECT",
		Properties: map[string]*schema{
			"transcription": {Type: "STRING"},
			"summary":       {Type: "STRING"},
			"conclusions":   {Type: "ARRAY", Items: &schema{Type: "STRING"}},
			"actionItems":   {Type: "ARRAY", Items: &schema{Type: "STRING"}},
		},
		Required: fields,
		Ordering: fields,
	}
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// safetySettings 所有类别都不拦截
func safetySettings() []safetySetting {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	out := make([]safetySetting, 0, len(categories))
	for _, c := range categories {
		out = append(out, safetySetting{Category: c, Threshold: "BLOCK_NONE"})
	}
	return out
}
