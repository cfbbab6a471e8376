package ringcentral

import "encoding/json"

// Team Messaging chat types as returned by the platform.
const (
	ChatTypePersonal = "Personal"
	ChatTypeDirect   = "Direct"
	ChatTypeGroup    = "Group"
	ChatTypeTeam     = "Team"
	ChatTypeEveryone = "Everyone"
)

// Chat is a Team Messaging conversation. Members may arrive as string
// ids or as {id} objects depending on the endpoint.
type Chat struct {
	ID          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	Type        string       `json:"type,omitempty"`
	Description string       `json:"description,omitempty"`
	Members     []ChatMember `json:"members,omitempty"`
}

// ChatMember tolerates both "123" and {"id":"123"} wire forms.
type ChatMember struct {
	ID string `json:"id"`
}

func (m *ChatMember) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		m.ID = s
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	m.ID = obj.ID
	return nil
}

// MemberIDs returns the normalized member id strings.
func (c *Chat) MemberIDs() []string {
	out := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if m.ID != "" {
			out = append(out, m.ID)
		}
	}
	return out
}

// Post is a Team Messaging post.
type Post struct {
	ID           string           `json:"id"`
	GroupID      string           `json:"groupId,omitempty"`
	CreatorID    string           `json:"creatorId,omitempty"`
	Text         string           `json:"text,omitempty"`
	CreationTime string           `json:"creationTime,omitempty"`
	Attachments  []PostAttachment `json:"attachments,omitempty"`
	Mentions     []PostMention    `json:"mentions,omitempty"`
}

// PostAttachment describes media attached to a post.
type PostAttachment struct {
	ID          string `json:"id,omitempty"`
	Type        string `json:"type,omitempty"`
	ContentURI  string `json:"contentUri,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Name        string `json:"name,omitempty"`
}

// PostMention is a person/team reference embedded in a post.
type PostMention struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"` // "Person", "Team", ...
	Name string `json:"name,omitempty"`
}

// Person is a Team Messaging user record.
type Person struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
}

// DisplayName joins the name parts, falling back to the id.
func (p *Person) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.LastName != "":
		return p.LastName
	default:
		return p.ID
	}
}

// Extension is the bot's own identity on the base REST surface
// (GET /restapi/v1.0/account/~/extension/~).
type Extension struct {
	ID              json.Number `json:"id"`
	ExtensionNumber string      `json:"extensionNumber,omitempty"`
	Name            string      `json:"name,omitempty"`
}

// Task is a Team Messaging task (CRUD veneer only; not part of the
// inbound pipeline).
type Task struct {
	ID          string   `json:"id,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	DueDate     string   `json:"dueDate,omitempty"`
	Assignees   []IDOnly `json:"assignees,omitempty"`
}

// TMEvent is a Team Messaging calendar event.
type TMEvent struct {
	ID             string `json:"id,omitempty"`
	Title          string `json:"title,omitempty"`
	StartTime      string `json:"startTime,omitempty"`
	EndTime        string `json:"endTime,omitempty"`
	AllDay         bool   `json:"allDay,omitempty"`
	Description    string `json:"description,omitempty"`
	RecurrenceType string `json:"recurrence,omitempty"`
}

// Note is a Team Messaging note.
type Note struct {
	ID     string `json:"id,omitempty"`
	Title  string `json:"title,omitempty"`
	Body   string `json:"body,omitempty"`
	Status string `json:"status,omitempty"`
}

// IDOnly is the {"id": "..."} wire shape used in several request bodies.
type IDOnly struct {
	ID string `json:"id"`
}

// FileUpload is the result of a multipart attachment upload.
type FileUpload struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	ContentURI  string `json:"contentUri,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// AdaptiveCard is an opaque adaptive-card payload; the platform accepts
// and returns the card JSON as-is plus an id.
type AdaptiveCard struct {
	ID   string                 `json:"id,omitempty"`
	Type string                 `json:"type,omitempty"`
	Body map[string]interface{} `json:"-"`
}

// recordsPage is the standard list envelope of the Team Messaging API.
type recordsPage[T any] struct {
	Records []T `json:"records"`
	Navigation struct {
		PrevPageToken string `json:"prevPageToken,omitempty"`
		NextPageToken string `json:"nextPageToken,omitempty"`
	} `json:"navigation,omitempty"`
}
