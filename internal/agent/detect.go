package agent

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/chenpu17/ai-browser/internal/tools"
)

const hintPrefix = "[系统提示] ⚠️ "

// observationTools are calls that read state without changing it; five of
// them in a row with no navigation is a progress stall.
var observationTools = map[string]bool{
	tools.ToolGetPageInfo:    true,
	tools.ToolGetPageContent: true,
	tools.ToolGetNetworkLogs: true,
	tools.ToolGetConsoleLogs: true,
	tools.ToolGetDialogInfo:  true,
	tools.ToolGetDownloads:   true,
	tools.ToolListTabs:       true,
	tools.ToolFindElement:    true,
}

type signature struct {
	sig string
	ok  bool
}

// LoopDetector watches tool call signatures for repetition patterns. Hints
// it produces are deferred by the loop and appended after the turn's tool
// messages.
type LoopDetector struct {
	history []signature
}

// NewLoopDetector creates an empty detector.
func NewLoopDetector() *LoopDetector {
	return &LoopDetector{}
}

// Observe records one completed call and returns a hint when a pattern
// fires. At most one hint is returned per call; firing the exact-repeat
// detector resets the signature buffer.
func (d *LoopDetector) Observe(toolName string, args map[string]any, ok bool) string {
	sig := callSignature(toolName, args)
	d.history = append(d.history, signature{sig: sig, ok: ok})
	if len(d.history) > 16 {
		d.history = d.history[len(d.history)-16:]
	}

	if d.exactRepeat(3) {
		d.history = nil
		return hintPrefix + fmt.Sprintf("检测到重复操作：最近 3 次 %s 调用完全相同。请改变策略，例如先调用 get_page_info 重新查看页面。", toolName)
	}
	if d.oscillation(6) {
		return hintPrefix + "检测到来回切换：最近的调用在两个操作之间交替。请停下来重新评估页面状态，再决定下一步。"
	}
	if d.futileRetry() {
		return hintPrefix + "同样参数的调用已连续失败两次。重复同样的操作不会成功，请换一种方式或换一个元素。"
	}
	if d.progressStall() {
		return hintPrefix + "最近 5 次调用都只是在读取页面，没有任何操作或导航。请执行具体动作推进任务。"
	}
	return ""
}

func (d *LoopDetector) exactRepeat(n int) bool {
	if len(d.history) < n {
		return false
	}
	last := d.history[len(d.history)-1].sig
	for i := len(d.history) - n; i < len(d.history); i++ {
		if d.history[i].sig != last {
			return false
		}
	}
	return true
}

// oscillation detects an A-B-A-B-A-B pattern over the last n signatures.
func (d *LoopDetector) oscillation(n int) bool {
	if len(d.history) < n {
		return false
	}
	tail := d.history[len(d.history)-n:]
	a, b := tail[0].sig, tail[1].sig
	if a == b {
		return false
	}
	for i := 2; i < n; i++ {
		want := a
		if i%2 == 1 {
			want = b
		}
		if tail[i].sig != want {
			return false
		}
	}
	return true
}

func (d *LoopDetector) futileRetry() bool {
	if len(d.history) < 2 {
		return false
	}
	last, prev := d.history[len(d.history)-1], d.history[len(d.history)-2]
	return last.sig == prev.sig && !last.ok && !prev.ok
}

func (d *LoopDetector) progressStall() bool {
	if len(d.history) < 5 {
		return false
	}
	for _, rec := range d.history[len(d.history)-5:] {
		if !isObservationSig(rec.sig) {
			return false
		}
	}
	return true
}

// callSignature hashes (tool, args) so oversized argument values do not blow
// up the buffer. Observation tools are tagged so the stall detector can
// recognize them from the signature alone.
func callSignature(toolName string, args map[string]any) string {
	encoded, _ := json.Marshal(args)
	sum := sha1.Sum(append([]byte(toolName+"\x00"), encoded...))
	tag := ""
	if observationTools[toolName] {
		tag = "obs:"
	}
	return tag + hex.EncodeToString(sum[:8])
}

func isObservationSig(sig string) bool {
	return len(sig) > 4 && sig[:4] == "obs:"
}
