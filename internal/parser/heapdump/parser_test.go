package heapdump

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dump-correlator/internal/parser"
	apperrors "github.com/dump-correlator/pkg/errors"
	"github.com/dump-correlator/pkg/model"
)

const sampleHeap = `# heap of order-service
captured: 2024-05-01T10:00:00Z

0x1 com.example.SessionCache shallow=48 retained=500MB refs=0x2,0x3
0x2 java.util.HashMap$Node[] shallow=64KiB refs=0x3
0x3 byte[] shallow=1024
0x4 java.lang.Object shallow=16 refs=0x1,0x99
`

func parse(t *testing.T, input string) ([]model.ObjectRecord, error) {
	t.Helper()
	return NewParser().ParseHeap(context.Background(), strings.NewReader(input))
}

func TestParseHeap_Sample(t *testing.T) {
	objects, err := parse(t, sampleHeap)
	require.NoError(t, err)
	require.Len(t, objects, 4)

	captured := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, o := range objects {
		assert.Equal(t, captured, o.CapturedAt)
	}

	assert.Equal(t, model.ObjectRecord{
		ID:           "0x1",
		TypeName:     "com.example.SessionCache",
		ShallowSize:  48,
		RetainedSize: 500_000_000,
		Refs:         []string{"0x2", "0x3"},
		CapturedAt:   captured,
	}, objects[0])

	assert.Equal(t, int64(65536), objects[1].ShallowSize)
	assert.False(t, objects[1].HasDeclaredRetained())
	assert.Nil(t, objects[2].Refs)
	assert.Equal(t, []string{"0x1", "0x99"}, objects[3].Refs, "unknown targets are kept for the graph stage")
}

func TestParseHeap_Empty(t *testing.T) {
	for _, input := range []string{"", "# only comments\n\n", "captured: 2024-05-01T10:00:00Z\n"} {
		objects, err := parse(t, input)
		require.NoError(t, err)
		assert.NotNil(t, objects)
		assert.Empty(t, objects)
	}
}

func TestParseHeap_FormatErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		line   int
		reason string
	}{
		{"single token", "0x1\n", 1, "at least an id and a type"},
		{"missing shallow", "0x1 T retained=10\n", 1, "no shallow size"},
		{"bad shallow", "0x1 T shallow=big\n", 1, "invalid shallow size"},
		{"negative shallow", "0x1 T shallow=-4\n", 1, "invalid shallow size"},
		{"bad retained", "0x1 T shallow=1 retained=x\n", 1, "invalid retained size"},
		{"retained below shallow", "0x1 T shallow=100 retained=10\n", 1, "smaller than shallow"},
		{"empty ref", "0x1 T shallow=1 refs=0x2,,0x3\n", 1, "empty reference"},
		{"empty refs", "0x1 T shallow=1 refs=\n", 1, "empty reference"},
		{"unknown attribute", "0x1 T shallow=1 color=red\n", 1, "unknown attribute"},
		{"bare token", "0x1 T shallow=1 loose\n", 1, "unknown attribute"},
		{"duplicate attribute", "0x1 T shallow=1 shallow=2\n", 1, "duplicate attribute"},
		{"duplicate id", "0x1 T shallow=1\n# c\n0x1 U shallow=2\n", 3, "duplicate object id"},
		{"bad timestamp", "captured: yesterday\n", 1, "invalid capture timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objects, err := parse(t, tt.input)
			require.Error(t, err)
			assert.Nil(t, objects, "no partial result on error")

			var fe *apperrors.FormatError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, Source, fe.Source)
			assert.Equal(t, tt.line, fe.Line)
			assert.Contains(t, fe.Reason, tt.reason)
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"0", 0, false},
		{"1024", 1024, false},
		{"1KB", 1000, false},
		{"1KiB", 1024, false},
		{"500MB", 500_000_000, false},
		{"2GiB", 2 << 30, false},
		{"", 0, true},
		{"-1", 0, true},
		{"-1KB", 0, true},
		{"lots", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseHeap_CancelledContext(t *testing.T) {
	var b strings.Builder
	for i := 0; i < parser.CancelCheckInterval; i++ {
		b.WriteString("# filler\n")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewParser().ParseHeap(ctx, strings.NewReader(b.String()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegisterWithRegistry(t *testing.T) {
	r := parser.NewRegistry()
	RegisterWithRegistry(r)

	p, err := r.Heap(FormatName)
	require.NoError(t, err)
	assert.Equal(t, FormatName, p.Name())
}
