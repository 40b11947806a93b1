package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/blockedby/tgparser/internal/logger"
)

// channelIDOffset is added (negated) to channel ids in the Bot API "-100…" form.
const channelIDOffset int64 = 1_000_000_000_000

var (
	usernamePattern    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,31}$`)
	privateLinkPattern = regexp.MustCompile(`(?i)t(?:elegram)?\.me/c/(\d+)`)
)

// Identifier is a parsed user-supplied group or channel reference.
type Identifier struct {
	Raw      string
	Username string     // set for username forms
	ID       int64      // set for numeric forms, bare (no -100 prefix)
	Kind     EntityKind // KindBroadcast for channel-style ids (may be a supergroup), KindChat, or KindUnknown
}

// IsNumeric reports whether the identifier is an id rather than a username.
func (i Identifier) IsNumeric() bool { return i.Username == "" }

// ParseIdentifier accepts t.me links, @username, bare usernames and signed
// numeric ids ("-100123" channel, "-123" basic chat, "123" either).
func ParseIdentifier(raw string) (Identifier, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Identifier{}, fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	id := Identifier{Raw: raw}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		switch {
		case n <= -channelIDOffset:
			id.ID, id.Kind = -n-channelIDOffset, KindBroadcast
		case n < 0:
			id.ID, id.Kind = -n, KindChat
		case n > 0:
			id.ID = n
		default:
			return Identifier{}, fmt.Errorf("%w: zero id", ErrInvalidIdentifier)
		}
		return id, nil
	}

	if m := privateLinkPattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || n == 0 {
			return Identifier{}, fmt.Errorf("%w: bad private link", ErrInvalidIdentifier)
		}
		id.ID, id.Kind = n, KindBroadcast
		return id, nil
	}

	name, err := usernameFrom(s)
	if err != nil {
		return Identifier{}, err
	}
	id.Username = name
	return id, nil
}

func usernameFrom(s string) (string, error) {
	if strings.HasPrefix(s, "@") {
		return validUsername(s[1:])
	}

	lower := strings.ToLower(s)
	if strings.Contains(lower, "t.me/") || strings.Contains(lower, "telegram.me/") {
		if !strings.Contains(lower, "://") {
			s = "https://" + s
		}
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
		}
		parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
		if len(parts) > 0 && parts[0] == "s" {
			parts = parts[1:]
		}
		if len(parts) == 0 {
			return "", fmt.Errorf("%w: link has no username", ErrInvalidIdentifier)
		}
		if parts[0] == "joinchat" || strings.HasPrefix(parts[0], "+") {
			return "", fmt.Errorf("%w: invite links are not supported", ErrInvalidIdentifier)
		}
		return validUsername(parts[0])
	}

	return validUsername(s)
}

func validUsername(name string) (string, error) {
	if !usernamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q is not a valid username", ErrInvalidIdentifier, name)
	}
	return name, nil
}

// EntitySource is the subset of API the resolver needs.
type EntitySource interface {
	ResolveUsername(ctx context.Context, username string) (Entity, error)
	LookupID(ctx context.Context, id int64, kind EntityKind) (Entity, error)
	Dialogs(ctx context.Context, limit int) ([]Entity, error)
}

// Resolver turns identifiers into entities, falling back to a scan of the
// account's dialogs when direct lookup fails.
type Resolver struct {
	src EntitySource
	log *logger.Logger
}

// NewResolver creates a resolver over an entity source.
func NewResolver(src EntitySource, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Get()
	}
	return &Resolver{src: src, log: log.Component("resolver")}
}

// Resolve returns the entity and whether it is a broadcast channel.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Entity, bool, error) {
	ident, err := ParseIdentifier(raw)
	if err != nil {
		return Entity{}, false, err
	}

	var e Entity
	if ident.IsNumeric() {
		e, err = r.src.LookupID(ctx, ident.ID, ident.Kind)
	} else {
		e, err = r.src.ResolveUsername(ctx, ident.Username)
	}
	if err == nil {
		return e, e.IsChannel(), nil
	}
	if _, limited := AsRateLimit(err); limited || ctx.Err() != nil {
		return Entity{}, false, err
	}

	r.log.Debug().Err(err).Str("identifier", raw).Msg("direct lookup failed, scanning dialogs")

	dialogs, derr := r.src.Dialogs(ctx, dialogScanLimit)
	if derr != nil {
		return Entity{}, false, errors.Join(fmt.Errorf("%w: %s", ErrEntityNotFound, raw), derr)
	}
	for _, d := range dialogs {
		if matches(ident, d) {
			return d, d.IsChannel(), nil
		}
	}
	return Entity{}, false, fmt.Errorf("%w: %s", ErrEntityNotFound, raw)
}

func matches(ident Identifier, e Entity) bool {
	if ident.IsNumeric() {
		return e.ID == ident.ID
	}
	return e.Username != "" && strings.EqualFold(e.Username, ident.Username)
}
