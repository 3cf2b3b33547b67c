package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusProcessing.IsTerminal())

	for _, s := range []Status{StatusCompleted, StatusPartial, StatusError, StatusTimeout, StatusCanceled} {
		assert.True(t, s.IsTerminal(), "status %s", s)
	}
}

func TestParseComponentType_Exact(t *testing.T) {
	for _, ct := range ComponentTypes {
		assert.Equal(t, ct, ParseComponentType(string(ct)))
	}
}

func TestParseComponentType_Normalization(t *testing.T) {
	assert.Equal(t, TypeFittings, ParseComponentType("  Fittings  "))
	assert.Equal(t, TypeAdapterTee, ParseComponentType(`"adapter-tee"`))
	assert.Equal(t, TypeBRS, ParseComponentType("'BRS'"))
}

func TestParseComponentType_SubstringFallback(t *testing.T) {
	// Answer contains a set element.
	assert.Equal(t, TypeFittings, ParseComponentType("the type is fittings."))
	// Answer is contained in a set element: "banjo" matches before "banjo-bolt"
	// by declaration order.
	assert.Equal(t, TypeBanjo, ParseComponentType("banj"))
	// "adapter" is a substring of both adapters and adapter-tee; declaration
	// order picks adapters.
	assert.Equal(t, TypeAdapters, ParseComponentType("adapter"))
}

func TestParseComponentType_Unknown(t *testing.T) {
	assert.Equal(t, TypeUnknown, ParseComponentType(""))
	assert.Equal(t, TypeUnknown, ParseComponentType("123"))
	assert.Equal(t, TypeUnknown, ParseComponentType("гайка М12"))
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"valid single", Message{TaskID: "t1", Query: "Фитинг BSP 3/4", Type: KindSingle, Priority: 5}, false},
		{"valid batch", Message{TaskID: "t1", Text: "a\nb", Type: KindBatch, Priority: 0}, false},
		{"missing task id", Message{Query: "q", Type: KindSingle, Priority: 5}, true},
		{"blank query", Message{TaskID: "t1", Query: "   ", Type: KindSingle, Priority: 5}, true},
		{"blank text", Message{TaskID: "t1", Text: "", Type: KindBatch, Priority: 5}, true},
		{"bad kind", Message{TaskID: "t1", Query: "q", Type: "stream", Priority: 5}, true},
		{"priority too high", Message{TaskID: "t1", Query: "q", Type: KindSingle, Priority: 11}, true},
		{"priority negative", Message{TaskID: "t1", Query: "q", Type: KindSingle, Priority: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseMessage(t *testing.T) {
	m, err := ParseMessage([]byte(`{"task_id":"abc","query":"Фитинг DKOL 12x1.5","type":"single","priority":5}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", m.TaskID)
	assert.Equal(t, "Фитинг DKOL 12x1.5", m.Input())

	_, err = ParseMessage([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseMessage([]byte(`{"task_id":"","query":"q","type":"single"}`))
	assert.Error(t, err)
}
