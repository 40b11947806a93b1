package telegram

import (
	"context"
	"fmt"
	"sync"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
)

type handlerFunc func(input bin.Encoder) (bin.Encoder, error)

// fakeInvoker answers RPCs by request type id, encoding canned results
// through the real TL codec.
type fakeInvoker struct {
	mu       sync.Mutex
	handlers map[uint32]handlerFunc
	calls    map[uint32]int
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		handlers: map[uint32]handlerFunc{},
		calls:    map[uint32]int{},
	}
}

func (f *fakeInvoker) on(typeID uint32, h handlerFunc) *fakeInvoker {
	f.handlers[typeID] = h
	return f
}

func (f *fakeInvoker) callCount(typeID uint32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[typeID]
}

func (f *fakeInvoker) Invoke(_ context.Context, input bin.Encoder, output bin.Decoder) error {
	typed, ok := input.(interface{ TypeID() uint32 })
	if !ok {
		return fmt.Errorf("untyped request %T", input)
	}

	f.mu.Lock()
	f.calls[typed.TypeID()]++
	h := f.handlers[typed.TypeID()]
	f.mu.Unlock()

	if h == nil {
		return fmt.Errorf("unexpected request %T", input)
	}
	res, err := h(input)
	if err != nil {
		return err
	}

	var b bin.Buffer
	if err := res.Encode(&b); err != nil {
		return err
	}
	return output.Decode(&b)
}

func (f *fakeInvoker) client() *tg.Client {
	return tg.NewClient(f)
}

func testChannel(id int64, username string, broadcast bool) *tg.Channel {
	return &tg.Channel{
		ID:         id,
		AccessHash: id * 10,
		Title:      "title " + username,
		Username:   username,
		Broadcast:  broadcast,
		Megagroup:  !broadcast,
		Photo:      &tg.ChatPhotoEmpty{},
	}
}

func testUser(id int64, username string) *tg.User {
	return &tg.User{
		ID:         id,
		AccessHash: id * 7,
		Username:   username,
		FirstName:  "First" + username,
	}
}
