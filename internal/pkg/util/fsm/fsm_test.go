package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/looplab/fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFire(t *testing.T) {
	boom := errors.New("boom")
	f := fsm.NewFSM(
		"idle",
		fsm.Events{
			{Name: "start", Src: []string{"idle"}, Dst: "running"},
			{Name: "stay", Src: []string{"running"}, Dst: "running"},
			{Name: "fail", Src: []string{"running"}, Dst: "failed"},
		},
		fsm.Callbacks{
			"enter_failed": WrapEvent(func(context.Context, *fsm.Event) error { return boom }),
		},
	)

	require.NoError(t, Fire(context.Background(), f, "start"))
	assert.Equal(t, "running", f.Current())

	assert.NoError(t, Fire(context.Background(), f, "stay"))

	var invalid fsm.InvalidEventError
	assert.ErrorAs(t, Fire(context.Background(), f, "start"), &invalid)

	assert.ErrorIs(t, Fire(context.Background(), f, "fail"), boom)
	assert.Equal(t, "failed", f.Current())
}
