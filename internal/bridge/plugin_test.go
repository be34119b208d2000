package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/arena"
	"github.com/wclap-bridge/wclap-bridge-go/internal/marshal"
)

const (
	idxInit = iota + 1
	idxDestroy
	idxActivate
	idxDeactivate
	idxStartProcessing
	idxStopProcessing
	idxReset
	idxProcess
	idxGetExtension
	idxOnMainThread
)

func newTestPlugin(t *testing.T, sbox *fakeSandbox, host HostCallbacks) *Plugin {
	t.Helper()
	tr := marshal.New(abi.Width32, abi.DefaultIDPrefix, abi.DefaultNameSuffix)
	b := &Bridge{Translator: tr, Main: sbox, hostSlots: map[uint32]*Plugin{}}

	sbox.indexFuncs[idxInit] = func(args []uint64) []uint64 { return nil }
	sbox.indexFuncs[idxDestroy] = func(args []uint64) []uint64 { return nil }
	sbox.indexFuncs[idxActivate] = func(args []uint64) []uint64 { return []uint64{1} }
	sbox.indexFuncs[idxDeactivate] = func(args []uint64) []uint64 { return nil }
	sbox.indexFuncs[idxStartProcessing] = func(args []uint64) []uint64 { return []uint64{1} }
	sbox.indexFuncs[idxStopProcessing] = func(args []uint64) []uint64 { return nil }
	sbox.indexFuncs[idxReset] = func(args []uint64) []uint64 { return nil }
	sbox.indexFuncs[idxGetExtension] = func(args []uint64) []uint64 { return []uint64{0} }
	sbox.indexFuncs[idxOnMainThread] = func(args []uint64) []uint64 { return nil }

	vt := pluginVTable{
		initIdx:            idxInit,
		destroyIdx:          idxDestroy,
		activateIdx:         idxActivate,
		deactivateIdx:       idxDeactivate,
		startProcessingIdx:  idxStartProcessing,
		stopProcessingIdx:   idxStopProcessing,
		resetIdx:            idxReset,
		processIdx:          idxProcess,
		getExtensionIdx:     idxGetExtension,
		onMainThreadIdx:     idxOnMainThread,
	}

	pool := arena.NewPool(sbox)
	return &Plugin{
		b:         b,
		control:   sbox,
		audio:     sbox,
		host:      host,
		vtable:    vt,
		pool:      pool,
		audioPool: pool,
		state:     StateCreated,
		exts:      map[string]*Extension{},
	}
}

func TestPluginLifecycleHappyPath(t *testing.T) {
	ctx := context.Background()
	sbox := newFakeSandbox()
	p := newTestPlugin(t, sbox, &recordingHost{})

	require.NoError(t, p.Init(ctx))
	assert.Equal(t, StateInitialized, p.State())

	require.NoError(t, p.Activate(ctx, 44100, 0, 512))
	assert.Equal(t, StateActivated, p.State())

	require.NoError(t, p.StartProcessing(ctx))
	assert.Equal(t, StateProcessing, p.State())

	require.NoError(t, p.StopProcessing(ctx))
	assert.Equal(t, StateActivated, p.State())

	require.NoError(t, p.Deactivate(ctx))
	assert.Equal(t, StateInitialized, p.State())

	require.NoError(t, p.Destroy(ctx))
	assert.Equal(t, StateDestroyed, p.State())
}

func TestPluginRejectsOutOfOrderTransitions(t *testing.T) {
	ctx := context.Background()
	sbox := newFakeSandbox()
	p := newTestPlugin(t, sbox, &recordingHost{})

	assert.Error(t, p.Activate(ctx, 44100, 0, 512)) // before Init
	assert.Error(t, p.StartProcessing(ctx))          // before Activate

	require.NoError(t, p.Init(ctx))
	assert.Error(t, p.StartProcessing(ctx)) // before Activate, after Init
}

func TestPluginDestroyTwicePanics(t *testing.T) {
	ctx := context.Background()
	sbox := newFakeSandbox()
	p := newTestPlugin(t, sbox, &recordingHost{})
	require.NoError(t, p.Destroy(ctx))

	assert.Panics(t, func() {
		p.Destroy(ctx)
	})
}

func TestPluginMustHaveBeenDestroyedPanicsIfSkipped(t *testing.T) {
	sbox := newFakeSandbox()
	p := newTestPlugin(t, sbox, &recordingHost{})
	assert.Panics(t, p.MustHaveBeenDestroyed)
}

func TestPluginMustHaveBeenDestroyedOkAfterDestroy(t *testing.T) {
	ctx := context.Background()
	sbox := newFakeSandbox()
	p := newTestPlugin(t, sbox, &recordingHost{})
	require.NoError(t, p.Destroy(ctx))
	assert.NotPanics(t, p.MustHaveBeenDestroyed)
}

func TestPluginProcessRejectsWrongState(t *testing.T) {
	ctx := context.Background()
	sbox := newFakeSandbox()
	p := newTestPlugin(t, sbox, &recordingHost{})
	_, err := p.Process(ctx, ProcessBlock{})
	assert.Error(t, err)
}

func TestPluginProcessRoundTripsOutputEvents(t *testing.T) {
	ctx := context.Background()
	sbox := newFakeSandbox()
	p := newTestPlugin(t, sbox, &recordingHost{})

	require.NoError(t, p.Init(ctx))
	require.NoError(t, p.Activate(ctx, 44100, 0, 512))
	require.NoError(t, p.StartProcessing(ctx))

	tramp := p.b.ensureProcessTrampolines(sbox)
	sbox.indexFuncs[idxProcess] = func(args []uint64) []uint64 {
		note := abi.NoteEvent{
			Header:    abi.EventHeader{Type: abi.EventNoteOn, SpaceID: abi.EventSpaceCore},
			NoteID:    -1,
			PortIndex: 0,
			Channel:   0,
			Key:       60,
			Velocity:  1.0,
		}
		encoded, err := marshal.EncodeEvent(note)
		require.NoError(t, err)
		evPtr, err := sbox.Malloc(context.Background(), uint32(len(encoded)))
		require.NoError(t, err)
		require.NoError(t, sbox.WriteMemory(evPtr, encoded))
		sbox.callHostFunc(tramp[2], []uint64{0, uint64(evPtr)})
		return []uint64{uint64(ProcessContinue)}
	}

	res, err := p.Process(ctx, ProcessBlock{FramesCount: 0})
	require.NoError(t, err)
	assert.Equal(t, ProcessContinue, res.Status)
	require.Len(t, res.OutputEvents, 1)
	note, ok := res.OutputEvents[0].(abi.NoteEvent)
	require.True(t, ok)
	assert.Equal(t, int16(60), note.Key)
	assert.Equal(t, 1.0, note.Velocity)
}
