package telegram

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		in       string
		username string
		id       int64
		kind     EntityKind
		wantErr  bool
	}{
		{in: "golang", username: "golang"},
		{in: "@golang", username: "golang"},
		{in: "  @golang  ", username: "golang"},
		{in: "t.me/golang", username: "golang"},
		{in: "https://t.me/golang", username: "golang"},
		{in: "http://telegram.me/golang/", username: "golang"},
		{in: "https://t.me/s/golang", username: "golang"},
		{in: "https://t.me/golang/123", username: "golang"},
		{in: "-1001234567890", id: 1234567890, kind: KindBroadcast},
		{in: "-4567", id: 4567, kind: KindChat},
		{in: "4567", id: 4567, kind: KindUnknown},
		{in: "https://t.me/c/1234567890/55", id: 1234567890, kind: KindBroadcast},

		{in: "", wantErr: true},
		{in: "0", wantErr: true},
		{in: "@ab", wantErr: true},
		{in: "1abc_def", wantErr: true},
		{in: "has space", wantErr: true},
		{in: "https://t.me/joinchat/AAAAAE", wantErr: true},
		{in: "https://t.me/+AbCdEf", wantErr: true},
		{in: "https://t.me/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIdentifier(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIdentifier)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.username, got.Username)
			assert.Equal(t, tt.id, got.ID)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.username == "", got.IsNumeric())
		})
	}
}

type fakeSource struct {
	byName  map[string]Entity
	byID    map[int64]Entity
	dialogs []Entity

	lookupErr   error
	dialogCalls int
}

func (f *fakeSource) ResolveUsername(_ context.Context, username string) (Entity, error) {
	if f.lookupErr != nil {
		return Entity{}, f.lookupErr
	}
	if e, ok := f.byName[strings.ToLower(username)]; ok {
		return e, nil
	}
	return Entity{}, ErrEntityNotFound
}

func (f *fakeSource) LookupID(_ context.Context, id int64, _ EntityKind) (Entity, error) {
	if f.lookupErr != nil {
		return Entity{}, f.lookupErr
	}
	if e, ok := f.byID[id]; ok {
		return e, nil
	}
	return Entity{}, ErrEntityNotFound
}

func (f *fakeSource) Dialogs(context.Context, int) ([]Entity, error) {
	f.dialogCalls++
	return f.dialogs, nil
}

func TestResolver_EquivalentForms(t *testing.T) {
	ch := Entity{ID: 1234567890, AccessHash: 9, Kind: KindBroadcast, Title: "Go", Username: "golang"}
	src := &fakeSource{
		byName: map[string]Entity{"golang": ch},
		byID:   map[int64]Entity{ch.ID: ch},
	}
	r := NewResolver(src, nil)

	for _, in := range []string{"golang", "@golang", "https://t.me/golang", "-1001234567890"} {
		e, isChannel, err := r.Resolve(context.Background(), in)
		require.NoError(t, err, in)
		assert.Equal(t, ch, e, in)
		assert.True(t, isChannel, in)
	}
	assert.Zero(t, src.dialogCalls)
}

func TestResolver_SupergroupIsNotChannel(t *testing.T) {
	g := Entity{ID: 77, Kind: KindSupergroup, Username: "gophers"}
	r := NewResolver(&fakeSource{byName: map[string]Entity{"gophers": g}}, nil)

	e, isChannel, err := r.Resolve(context.Background(), "@gophers")
	require.NoError(t, err)
	assert.Equal(t, g, e)
	assert.False(t, isChannel)
}

func TestResolver_DialogFallback(t *testing.T) {
	private := Entity{ID: 555, Kind: KindSupergroup, Title: "private"}
	named := Entity{ID: 556, Kind: KindBroadcast, Username: "HiddenName"}
	src := &fakeSource{dialogs: []Entity{private, named}}
	r := NewResolver(src, nil)

	e, isChannel, err := r.Resolve(context.Background(), "555")
	require.NoError(t, err)
	assert.Equal(t, private, e)
	assert.False(t, isChannel)

	e, isChannel, err = r.Resolve(context.Background(), "@hiddenname")
	require.NoError(t, err)
	assert.Equal(t, named, e)
	assert.True(t, isChannel)

	assert.Equal(t, 2, src.dialogCalls)
}

func TestResolver_NotFound(t *testing.T) {
	r := NewResolver(&fakeSource{}, nil)

	_, _, err := r.Resolve(context.Background(), "@nobodyhere")
	assert.ErrorIs(t, err, ErrEntityNotFound)

	_, _, err = r.Resolve(context.Background(), "not a name")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestResolver_RateLimitSkipsFallback(t *testing.T) {
	src := &fakeSource{lookupErr: &RateLimitError{Method: "contacts.resolveUsername", Wait: time.Minute}}
	r := NewResolver(src, nil)

	_, _, err := r.Resolve(context.Background(), "@golang")
	_, ok := AsRateLimit(err)
	assert.True(t, ok)
	assert.Zero(t, src.dialogCalls)
}
