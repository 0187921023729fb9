package fileperm

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mode uint32
		want string
		perm fs.FileMode
	}{
		{"regular file", 0o644, "rw-r--r--", 0o644},
		{"executable", 0o755, "rwxr-xr-x", 0o755},
		{"none", 0, "---------", 0},
		{"all", 0o777, "rwxrwxrwx", 0o777},
		{"type bits ignored", uint32(fs.ModeDir | 0o750), "rwxr-x---", 0o750},
		{"setuid ignored", 0o4755, "rwxr-xr-x", 0o755},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := FromMode(tt.mode)
			assert.Equal(t, tt.want, s.String())
			assert.Equal(t, tt.perm, s.FileMode())
		})
	}
}

func TestBitOrder(t *testing.T) {
	t.Parallel()

	assert.True(t, FromMode(1).Has(OtherExecute))
	assert.True(t, FromMode(1<<8).Has(OwnerRead))
	assert.False(t, FromMode(1<<8).Has(OtherExecute))
	assert.Equal(t, []Permission{OwnerRead, GroupRead, OtherRead}, FromMode(0o444).Permissions())
}

func TestOf(t *testing.T) {
	t.Parallel()

	s := Of(OwnerRead, OwnerWrite, GroupRead)
	assert.Equal(t, FromMode(0o640), s)
	assert.Equal(t, "owner-write", OwnerWrite.String())
}
