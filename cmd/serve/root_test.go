package serve

import (
	"testing"

	"github.com/ValentinKolb/nkv/lib/device/util"
	"github.com/ValentinKolb/nkv/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTargets(t *testing.T) {
	targets, err := ParseTargets("1=memdev, 2=memdev@/data/two.bin,3=raftdev")
	require.NoError(t, err)
	assert.Equal(t, []common.ServerTarget{
		{TargetID: 1, Type: common.TargetTypeMemdev},
		{TargetID: 2, Type: common.TargetTypeMemdev, DataFile: "/data/two.bin"},
		{TargetID: 3, Type: common.TargetTypeRaftdev},
	}, targets)

	for _, invalid := range []string{
		"",
		"1",
		"x=memdev",
		"1=diskdev",
		"1=raftdev@/data/file",
	} {
		_, err := ParseTargets(invalid)
		assert.Error(t, err, invalid)
	}
}

func TestParseClusterMembers(t *testing.T) {
	members, err := ParseClusterMembers("node-1=localhost:63001, node-2=localhost:63002")
	require.NoError(t, err)
	assert.Equal(t, map[uint64]string{
		uint64(util.HashString("node-1", 0)): "localhost:63001",
		uint64(util.HashString("node-2", 0)): "localhost:63002",
	}, members)

	members, err = ParseClusterMembers("")
	require.NoError(t, err)
	assert.Empty(t, members)

	_, err = ParseClusterMembers("node-1")
	assert.Error(t, err)
	_, err = ParseClusterMembers("node-1=")
	assert.Error(t, err)
}
