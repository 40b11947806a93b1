package telegram

import (
	"strconv"
	"time"

	"github.com/gotd/td/tg"
)

// EntityKind classifies a resolved peer.
type EntityKind int

const (
	KindUnknown EntityKind = iota
	KindBroadcast
	KindSupergroup
	KindChat
	KindUser
)

func (k EntityKind) String() string {
	switch k {
	case KindBroadcast:
		return "channel"
	case KindSupergroup:
		return "supergroup"
	case KindChat:
		return "chat"
	case KindUser:
		return "user"
	default:
		return "unknown"
	}
}

// Entity is a resolved group, channel or user.
type Entity struct {
	ID         int64
	AccessHash int64
	Kind       EntityKind
	Title      string
	Username   string
}

// IsChannel reports whether the entity is a broadcast channel.
func (e Entity) IsChannel() bool { return e.Kind == KindBroadcast }

// IsGroupLike reports whether members can be listed for the entity.
func (e Entity) IsGroupLike() bool {
	return e.Kind == KindBroadcast || e.Kind == KindSupergroup || e.Kind == KindChat
}

// IsPublic reports whether the entity has a public username.
func (e Entity) IsPublic() bool { return e.Username != "" }

// ExternalID is the id stored in groups.group_id.
func (e Entity) ExternalID() string { return strconv.FormatInt(e.ID, 10) }

// InputPeer returns the peer used in history and reply requests.
func (e Entity) InputPeer() tg.InputPeerClass {
	switch e.Kind {
	case KindBroadcast, KindSupergroup:
		return &tg.InputPeerChannel{ChannelID: e.ID, AccessHash: e.AccessHash}
	case KindChat:
		return &tg.InputPeerChat{ChatID: e.ID}
	case KindUser:
		return &tg.InputPeerUser{UserID: e.ID, AccessHash: e.AccessHash}
	default:
		return &tg.InputPeerEmpty{}
	}
}

// InputChannel returns the channel handle for channel-only requests.
func (e Entity) InputChannel() *tg.InputChannel {
	return &tg.InputChannel{ChannelID: e.ID, AccessHash: e.AccessHash}
}

// FullInfo is the subset of full chat info the parser stores.
type FullInfo struct {
	ParticipantsCount int
	About             string
}

// User is a Telegram account as seen in participant and message listings.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Phone     string
	Bot       bool
	Premium   bool
	Deleted   bool
}

// ParticipantFilter selects which participants to list.
type ParticipantFilter int

const (
	FilterRecent ParticipantFilter = iota
	FilterAdmins
)

// ParticipantPage is one page of a participant listing.
type ParticipantPage struct {
	Users []User
	Total int
}

// Message is a channel post, group message or discussion reply.
type Message struct {
	ID        int
	SenderID  int64 // 0 when the sender is not a user
	Text      string
	Date      time.Time
	Views     int
	Replies   int
	ReplyToID int // 0 when not a reply
}

// MessagePage is one page of messages plus the users they reference.
// Messages holds regular messages only; Fetched and LastID describe the raw
// page, service messages included, and drive pagination.
type MessagePage struct {
	Messages []Message
	Users    map[int64]User
	Fetched  int
	LastID   int
}

func entityFromChat(c tg.ChatClass) (Entity, bool) {
	switch ch := c.(type) {
	case *tg.Channel:
		kind := KindSupergroup
		if ch.Broadcast {
			kind = KindBroadcast
		}
		return Entity{
			ID:         ch.ID,
			AccessHash: ch.AccessHash,
			Kind:       kind,
			Title:      ch.Title,
			Username:   ch.Username,
		}, true
	case *tg.Chat:
		return Entity{ID: ch.ID, Kind: KindChat, Title: ch.Title}, true
	default:
		return Entity{}, false
	}
}

func entityFromUser(u tg.UserClass) (Entity, bool) {
	usr, ok := u.(*tg.User)
	if !ok {
		return Entity{}, false
	}
	title := usr.FirstName
	if usr.LastName != "" {
		title += " " + usr.LastName
	}
	return Entity{
		ID:         usr.ID,
		AccessHash: usr.AccessHash,
		Kind:       KindUser,
		Title:      title,
		Username:   usr.Username,
	}, true
}

func userFrom(u tg.UserClass) (User, bool) {
	usr, ok := u.(*tg.User)
	if !ok {
		return User{}, false
	}
	return User{
		ID:        usr.ID,
		Username:  usr.Username,
		FirstName: usr.FirstName,
		LastName:  usr.LastName,
		Phone:     usr.Phone,
		Bot:       usr.Bot,
		Premium:   usr.Premium,
		Deleted:   usr.Deleted,
	}, true
}

func usersByID(list []tg.UserClass) map[int64]User {
	out := make(map[int64]User, len(list))
	for _, u := range list {
		if usr, ok := userFrom(u); ok {
			out[usr.ID] = usr
		}
	}
	return out
}

func messageFrom(m tg.MessageClass) (Message, bool) {
	msg, ok := m.(*tg.Message)
	if !ok {
		return Message{}, false
	}
	out := Message{
		ID:    msg.ID,
		Text:  msg.Message,
		Date:  time.Unix(int64(msg.Date), 0),
		Views: msg.Views,
	}
	if from, ok := msg.GetFromID(); ok {
		if pu, ok := from.(*tg.PeerUser); ok {
			out.SenderID = pu.UserID
		}
	} else if pu, ok := msg.PeerID.(*tg.PeerUser); ok {
		// private chats carry the sender in peer_id
		out.SenderID = pu.UserID
	}
	if replies, ok := msg.GetReplies(); ok {
		out.Replies = replies.Replies
	}
	if hdr, ok := msg.ReplyTo.(*tg.MessageReplyHeader); ok {
		out.ReplyToID = hdr.ReplyToMsgID
	}
	return out, true
}

func messagePageFrom(res tg.MessagesMessagesClass) MessagePage {
	var (
		msgs  []tg.MessageClass
		users []tg.UserClass
	)
	switch r := res.(type) {
	case *tg.MessagesMessages:
		msgs, users = r.Messages, r.Users
	case *tg.MessagesMessagesSlice:
		msgs, users = r.Messages, r.Users
	case *tg.MessagesChannelMessages:
		msgs, users = r.Messages, r.Users
	}

	page := MessagePage{Users: usersByID(users), Fetched: len(msgs)}
	for _, m := range msgs {
		page.LastID = m.GetID()
		if msg, ok := messageFrom(m); ok {
			page.Messages = append(page.Messages, msg)
		}
	}
	return page
}
