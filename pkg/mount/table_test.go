package mount

import (
	"strings"
	"testing"

	"github.com/moby/sys/mountinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMountinfo = `22 26 0:21 / /proc rw,nosuid,nodev,noexec,relatime shared:12 - proc proc rw
26 1 8:1 / / rw,relatime shared:1 - ext4 /dev/sda1 rw,errors=remount-ro
40 26 7:3 / /mnt/image ro,relatime shared:30 - iso9660 /dev/loop3 ro
`

func TestTableFromInfos(t *testing.T) {
	infos, err := mountinfo.GetMountsFromReader(strings.NewReader(sampleMountinfo), nil)
	require.NoError(t, err)

	entries := tableFromInfos(infos)
	require.Len(t, entries, 3)

	assert.Equal(t, TableEntry{
		Source:  "proc",
		Target:  "/proc",
		FSType:  "proc",
		Options: "rw,nosuid,nodev,noexec,relatime,rw",
	}, entries[0])

	assert.Equal(t, "/dev/sda1", entries[1].Source)
	assert.Equal(t, "/", entries[1].Target)
	assert.Equal(t, "ext4", entries[1].FSType)
	assert.Contains(t, entries[1].Options, "errors=remount-ro")

	assert.Equal(t, "/dev/loop3", entries[2].Source)
	assert.Equal(t, "iso9660", entries[2].FSType)
}
