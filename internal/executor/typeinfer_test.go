package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ralph-labs/orchestrator/internal/store"
)

func TestInferTaskType(t *testing.T) {
	cases := []struct {
		name  string
		title string
		desc  string
		want  store.TaskType
	}{
		{"bug fix", "Fix crash on login", "Users report a crash when logging in with an expired token", store.TaskTypeBugFix},
		{"refactor", "Refactor the widget renderer", "Extract duplicate rendering logic into a shared helper", store.TaskTypeRefactor},
		{"testing", "Add test coverage for widget cache", "Write unit tests covering the cache eviction path", store.TaskTypeTesting},
		{"default implementation", "Add export-to-CSV button", "Users want to export their widget list", store.TaskTypeImplement},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, InferTaskType(tc.title, tc.desc))
		})
	}
}
