// Package prompt builds the message sequence sent to the completion service.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/chenpeel/chat-relay/internal/history"
)

// TimeInstruction follows the time annotation in the system message.
const TimeInstruction = "请在回答关于当前时间的问题时，使用上面提供的准确时间。"

var weekdayLabels = [...]string{"日", "一", "二", "三", "四", "五", "六"}

// Assembler is safe for concurrent use; its fields are fixed after New.
type Assembler struct {
	persona  string
	location *time.Location
	cap      int
}

func New(persona string, location *time.Location, cap int) *Assembler {
	if location == nil {
		location = time.Local
	}
	return &Assembler{
		persona:  persona,
		location: location,
		cap:      cap,
	}
}

func (a *Assembler) Cap() int { return a.cap }

func (a *Assembler) Location() *time.Location { return a.location }

// TimeAnnotation renders the reference time in the assembler's location.
func (a *Assembler) TimeAnnotation(ref time.Time) string {
	t := ref.In(a.location)
	return fmt.Sprintf("当前时间是: %d年%d月%d日 星期%s %d:%02d (北京/上海时间)",
		t.Year(), int(t.Month()), t.Day(), weekdayLabels[t.Weekday()], t.Hour(), t.Minute())
}

// SystemPrompt joins persona, time annotation and instruction.
func (a *Assembler) SystemPrompt(ref time.Time) string {
	var b strings.Builder
	b.WriteString(a.persona)
	b.WriteString("\n\n")
	b.WriteString(a.TimeAnnotation(ref))
	b.WriteString("\n\n")
	b.WriteString(TimeInstruction)
	return b.String()
}

// Build returns [system] + the most recent cap turns of h + [user message].
// h is not modified.
func (a *Assembler) Build(ref time.Time, h history.History, message string) []history.Turn {
	recent := h.Trim(a.cap)
	out := make([]history.Turn, 0, len(recent)+2)
	out = append(out, history.Turn{Role: history.RoleSystem, Content: a.SystemPrompt(ref)})
	out = append(out, recent...)
	out = append(out, history.Turn{Role: history.RoleUser, Content: message})
	return out
}
