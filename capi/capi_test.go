package capi

/*
#include <stdint.h>
#include <stdlib.h>
*/
import "C"

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingBundleSetsLastError(t *testing.T) {
	dir := t.TempDir() // no module.wasm inside: Open must fail at os.Stat.
	cpath := C.CString(dir)
	defer C.free(unsafe.Pointer(cpath))

	ptr := open(cpath)
	assert.Nil(t, ptr)

	errPtr := lastError()
	require.NotNil(t, errPtr)
	msg := C.GoString(errPtr)
	C.free(unsafe.Pointer(errPtr))
	assert.Contains(t, msg, "bridge:")
}

func TestGlobalInitDeinitRoundTrip(t *testing.T) {
	assert.True(t, bool(globalInit(C.uint32_t(0))))
	globalDeinit()
}

func TestCloseUnknownHandleFails(t *testing.T) {
	assert.False(t, bool(close(nil)))
}

func TestVersionUnknownHandleFails(t *testing.T) {
	assert.Nil(t, version(nil))
}

func TestGetFactoryUnknownHandleFails(t *testing.T) {
	name := C.CString("clap.plugin-factory")
	defer C.free(unsafe.Pointer(name))
	assert.Nil(t, getFactory(nil, name))
}
