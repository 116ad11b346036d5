package prompts

import (
	"strings"
	"testing"

	"github.com/Waghib/Speech-to-TODO-List/internal/tools"
)

func TestSystemPrompt_ListsEveryTool(t *testing.T) {
	reg := tools.NewRegistry(nil)
	got := SystemPrompt(reg.List())

	for _, tool := range reg.List() {
		if !strings.Contains(got, "- "+tool.Signature+": "+tool.Description) {
			t.Errorf("prompt missing %s", tool.Name)
		}
	}
	for _, shape := range []string{`"type": "action"`, `"type": "output"`, `{"observation":`} {
		if !strings.Contains(got, shape) {
			t.Errorf("prompt missing reply shape %s", shape)
		}
	}
	if strings.Contains(got, "%!") {
		t.Error("prompt contains a formatting error")
	}
}
