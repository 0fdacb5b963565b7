// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package luks_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-provision/blkid/internal/filesystems/luks"
	"github.com/siderolabs/go-provision/blkid/internal/probe"
)

type memReader struct {
	*bytes.Reader
}

func (r *memReader) GetSectorSize() uint { return 512 }

func (r *memReader) GetSize() uint64 { return uint64(r.Size()) }

func newMemReader(data []byte) *memReader {
	return &memReader{bytes.NewReader(data)}
}

const testUUID = "9f2f34d4-b225-4592-9be3-4ac2f9a44b94"

func buildLUKS2(t *testing.T) []byte {
	t.Helper()

	const hdrSize = 16384 // binary header plus JSON area

	buf := make([]byte, hdrSize)

	copy(buf[0:], "LUKS\xba\xbe")
	binary.BigEndian.PutUint16(buf[6:], 2)
	binary.BigEndian.PutUint64(buf[8:], hdrSize)
	copy(buf[24:], "cryptlabel")
	copy(buf[72:], "sha256")
	copy(buf[168:], testUUID)

	digest := sha256.Sum256(buf)
	copy(buf[448:], digest[:])

	return buf
}

func TestProbe(t *testing.T) {
	t.Parallel()

	buf := buildLUKS2(t)

	prober := &luks.Probe{}

	require.True(t, prober.Magic()[0].Matches(buf))

	res, err := prober.Probe(newMemReader(buf))
	require.NoError(t, err)
	require.NotNil(t, res)

	require.NotNil(t, res.UUID)
	assert.Equal(t, testUUID, res.UUID.String())

	require.NotNil(t, res.Label)
	assert.Equal(t, "cryptlabel", *res.Label)

	assert.True(t, res.Verified)
}

func TestProbeWrongVersion(t *testing.T) {
	t.Parallel()

	buf := buildLUKS2(t)
	binary.BigEndian.PutUint16(buf[6:], 1)

	res, err := (&luks.Probe{}).Probe(newMemReader(buf))
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestProbeCorrupted(t *testing.T) {
	t.Parallel()

	buf := buildLUKS2(t)

	// damage the label without touching the magic
	buf[24] ^= 0xff

	res, err := (&luks.Probe{}).Probe(newMemReader(buf))
	require.ErrorIs(t, err, probe.ErrCorrupted)
	assert.Nil(t, res)
}
