package bridge

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/marshal"
)

func writeEntryRecord(t *testing.T, sbox *fakeSandbox, tr marshal.Translator, ptr abi.Ptr, major, minor, rev uint32, initIdx, deinitIdx, getFactoryIdx uint64) {
	t.Helper()
	buf := make([]byte, entryVersionBytes)
	binary.LittleEndian.PutUint32(buf[0:4], major)
	binary.LittleEndian.PutUint32(buf[4:8], minor)
	binary.LittleEndian.PutUint32(buf[8:12], rev)
	require.NoError(t, sbox.WriteMemory(ptr, buf))

	ws := tr.Width.Size()
	word := make([]byte, ws)
	tr.PutWord(word, 0, initIdx)
	require.NoError(t, sbox.WriteMemory(ptr.Add(entryVersionBytes), word))
	tr.PutWord(word, 0, deinitIdx)
	require.NoError(t, sbox.WriteMemory(ptr.Add(entryVersionBytes+ws), word))
	tr.PutWord(word, 0, getFactoryIdx)
	require.NoError(t, sbox.WriteMemory(ptr.Add(entryVersionBytes+2*ws), word))
}

func TestReadEntryRecordWidth32(t *testing.T) {
	tr := marshal.New(abi.Width32, abi.DefaultIDPrefix, abi.DefaultNameSuffix)
	sbox := newFakeSandbox()
	ptr, err := sbox.Malloc(context.Background(), entryVersionBytes+3*tr.Width.Size())
	require.NoError(t, err)
	writeEntryRecord(t, sbox, tr, ptr, 1, 2, 3, 10, 11, 12)

	e, err := readEntryRecord(sbox, tr, ptr)
	require.NoError(t, err)
	assert.Equal(t, abi.Version{Major: 1, Minor: 2, Revision: 3}, e.Version)
	assert.Equal(t, uint64(10), e.InitIdx)
	assert.Equal(t, uint64(11), e.DeinitIdx)
	assert.Equal(t, uint64(12), e.GetFactoryIdx)
}

func TestReadEntryRecordWidth64(t *testing.T) {
	tr := marshal.New(abi.Width64, abi.DefaultIDPrefix, abi.DefaultNameSuffix)
	sbox := newFakeSandbox()
	ptr, err := sbox.Malloc(context.Background(), entryVersionBytes+3*tr.Width.Size())
	require.NoError(t, err)
	writeEntryRecord(t, sbox, tr, ptr, 1, 42, 0, 0xFFFFFFFF, 7, 8)

	e, err := readEntryRecord(sbox, tr, ptr)
	require.NoError(t, err)
	assert.Equal(t, abi.Version{Major: 1, Minor: 42, Revision: 0}, e.Version)
	assert.Equal(t, uint64(0xFFFFFFFF), e.InitIdx)
	assert.Equal(t, uint64(7), e.DeinitIdx)
	assert.Equal(t, uint64(8), e.GetFactoryIdx)
}
