package ringcentral

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// --- Identity ---

// GetCurrentExtension returns the bot's own extension record.
func (c *RestClient) GetCurrentExtension(ctx context.Context) (*Extension, error) {
	var ext Extension
	if err := c.doJSON(ctx, http.MethodGet, restRoot+"/account/~/extension/~", nil, &ext); err != nil {
		return nil, err
	}
	return &ext, nil
}

// --- Chats ---

// ListChats returns chats of the given type, up to limit records.
// chatType may be empty to list all types.
func (c *RestClient) ListChats(ctx context.Context, chatType string, limit int) ([]Chat, error) {
	q := url.Values{}
	if chatType != "" {
		q.Set("type", chatType)
	}
	if limit > 0 {
		q.Set("recordCount", fmt.Sprintf("%d", limit))
	}
	path := tmRoot + "/chats"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page recordsPage[Chat]
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return page.Records, nil
}

// GetChat fetches one chat by id.
func (c *RestClient) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var chat Chat
	if err := c.doJSON(ctx, http.MethodGet, tmRoot+"/chats/"+url.PathEscape(chatID), nil, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// AddChatToFavorites marks a chat as favorite.
func (c *RestClient) AddChatToFavorites(ctx context.Context, chatID string) error {
	return c.doJSON(ctx, http.MethodPost, tmRoot+"/chats/"+url.PathEscape(chatID)+"/favorite", nil, nil)
}

// RemoveChatFromFavorites unmarks a favorite chat.
func (c *RestClient) RemoveChatFromFavorites(ctx context.Context, chatID string) error {
	return c.doJSON(ctx, http.MethodPost, tmRoot+"/chats/"+url.PathEscape(chatID)+"/unfavorite", nil, nil)
}

// --- Posts ---

// ListPosts returns the most recent posts of a chat.
func (c *RestClient) ListPosts(ctx context.Context, chatID string, limit int) ([]Post, error) {
	path := tmRoot + "/chats/" + url.PathEscape(chatID) + "/posts"
	if limit > 0 {
		path += fmt.Sprintf("?recordCount=%d", limit)
	}
	var page recordsPage[Post]
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return page.Records, nil
}

// CreatePost sends a text post, optionally carrying uploaded
// attachment ids.
func (c *RestClient) CreatePost(ctx context.Context, chatID, text string, attachmentIDs []string) (*Post, error) {
	body := map[string]interface{}{}
	if text != "" {
		body["text"] = text
	}
	if len(attachmentIDs) > 0 {
		atts := make([]map[string]string, 0, len(attachmentIDs))
		for _, id := range attachmentIDs {
			atts = append(atts, map[string]string{"id": id, "type": "File"})
		}
		body["attachments"] = atts
	}
	var post Post
	if err := c.doJSON(ctx, http.MethodPost, tmRoot+"/chats/"+url.PathEscape(chatID)+"/posts", body, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// UpdatePost replaces the text of an existing post.
func (c *RestClient) UpdatePost(ctx context.Context, chatID, postID, text string) (*Post, error) {
	body := map[string]string{"text": text}
	var post Post
	path := tmRoot + "/chats/" + url.PathEscape(chatID) + "/posts/" + url.PathEscape(postID)
	if err := c.doJSON(ctx, http.MethodPatch, path, body, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// DeletePost removes a post.
func (c *RestClient) DeletePost(ctx context.Context, chatID, postID string) error {
	path := tmRoot + "/chats/" + url.PathEscape(chatID) + "/posts/" + url.PathEscape(postID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// --- Files ---

// UploadFile uploads attachment bytes to a chat via multipart and
// returns the platform file record. The upload response is a records
// array with a single element.
func (c *RestClient) UploadFile(ctx context.Context, chatID, fileName string, data []byte, contentType string) (*FileUpload, error) {
	path := tmRoot + "/chats/" + url.PathEscape(chatID) + "/files?name=" + url.QueryEscape(fileName)
	var out struct {
		Records []FileUpload `json:"records"`
		// some server versions return the bare object
		ID string `json:"id"`
	}
	if err := c.doMultipart(ctx, path, fileName, bytes.NewReader(data), contentType, &out); err != nil {
		return nil, err
	}
	if len(out.Records) > 0 {
		return &out.Records[0], nil
	}
	if out.ID != "" {
		return &FileUpload{ID: out.ID, Name: fileName}, nil
	}
	return nil, fmt.Errorf("upload to chat %s returned no file record", chatID)
}

// --- Persons ---

// GetPerson fetches a Team Messaging user record.
func (c *RestClient) GetPerson(ctx context.Context, personID string) (*Person, error) {
	var p Person
	if err := c.doJSON(ctx, http.MethodGet, tmRoot+"/persons/"+url.PathEscape(personID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Adaptive cards ---

// CreateAdaptiveCard posts a raw adaptive-card payload to a chat.
func (c *RestClient) CreateAdaptiveCard(ctx context.Context, chatID string, card map[string]interface{}) (*IDOnly, error) {
	var out IDOnly
	path := tmRoot + "/chats/" + url.PathEscape(chatID) + "/adaptive-cards"
	if err := c.doJSON(ctx, http.MethodPost, path, card, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateAdaptiveCard replaces an existing adaptive card.
func (c *RestClient) UpdateAdaptiveCard(ctx context.Context, cardID string, card map[string]interface{}) error {
	return c.doJSON(ctx, http.MethodPut, tmRoot+"/adaptive-cards/"+url.PathEscape(cardID), card, nil)
}

// DeleteAdaptiveCard removes an adaptive card.
func (c *RestClient) DeleteAdaptiveCard(ctx context.Context, cardID string) error {
	return c.doJSON(ctx, http.MethodDelete, tmRoot+"/adaptive-cards/"+url.PathEscape(cardID), nil, nil)
}

// --- Tasks ---

// ListTasks returns the tasks of a chat.
func (c *RestClient) ListTasks(ctx context.Context, chatID string) ([]Task, error) {
	var page recordsPage[Task]
	if err := c.doJSON(ctx, http.MethodGet, tmRoot+"/chats/"+url.PathEscape(chatID)+"/tasks", nil, &page); err != nil {
		return nil, err
	}
	return page.Records, nil
}

// CreateTask creates a task in a chat.
func (c *RestClient) CreateTask(ctx context.Context, chatID string, task *Task) (*Task, error) {
	var out Task
	if err := c.doJSON(ctx, http.MethodPost, tmRoot+"/chats/"+url.PathEscape(chatID)+"/tasks", task, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTask patches a task.
func (c *RestClient) UpdateTask(ctx context.Context, taskID string, task *Task) (*Task, error) {
	var out Task
	if err := c.doJSON(ctx, http.MethodPatch, tmRoot+"/tasks/"+url.PathEscape(taskID), task, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteTask marks a task complete.
func (c *RestClient) CompleteTask(ctx context.Context, taskID string) error {
	body := map[string]string{"status": "Completed"}
	return c.doJSON(ctx, http.MethodPost, tmRoot+"/tasks/"+url.PathEscape(taskID)+"/complete", body, nil)
}

// DeleteTask removes a task.
func (c *RestClient) DeleteTask(ctx context.Context, taskID string) error {
	return c.doJSON(ctx, http.MethodDelete, tmRoot+"/tasks/"+url.PathEscape(taskID), nil, nil)
}

// --- Events ---

// ListEvents returns the calendar events of a chat.
func (c *RestClient) ListEvents(ctx context.Context, chatID string) ([]TMEvent, error) {
	var page recordsPage[TMEvent]
	if err := c.doJSON(ctx, http.MethodGet, tmRoot+"/chats/"+url.PathEscape(chatID)+"/events", nil, &page); err != nil {
		return nil, err
	}
	return page.Records, nil
}

// CreateEvent creates a calendar event in a chat.
func (c *RestClient) CreateEvent(ctx context.Context, chatID string, ev *TMEvent) (*TMEvent, error) {
	var out TMEvent
	if err := c.doJSON(ctx, http.MethodPost, tmRoot+"/chats/"+url.PathEscape(chatID)+"/events", ev, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateEvent replaces a calendar event.
func (c *RestClient) UpdateEvent(ctx context.Context, eventID string, ev *TMEvent) (*TMEvent, error) {
	var out TMEvent
	if err := c.doJSON(ctx, http.MethodPut, tmRoot+"/events/"+url.PathEscape(eventID), ev, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteEvent removes a calendar event.
func (c *RestClient) DeleteEvent(ctx context.Context, eventID string) error {
	return c.doJSON(ctx, http.MethodDelete, tmRoot+"/events/"+url.PathEscape(eventID), nil, nil)
}

// --- Notes ---

// ListNotes returns the notes of a chat.
func (c *RestClient) ListNotes(ctx context.Context, chatID string) ([]Note, error) {
	var page recordsPage[Note]
	if err := c.doJSON(ctx, http.MethodGet, tmRoot+"/chats/"+url.PathEscape(chatID)+"/notes", nil, &page); err != nil {
		return nil, err
	}
	return page.Records, nil
}

// CreateNote creates a note in a chat.
func (c *RestClient) CreateNote(ctx context.Context, chatID string, note *Note) (*Note, error) {
	var out Note
	if err := c.doJSON(ctx, http.MethodPost, tmRoot+"/chats/"+url.PathEscape(chatID)+"/notes", note, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateNote patches a note.
func (c *RestClient) UpdateNote(ctx context.Context, noteID string, note *Note) (*Note, error) {
	var out Note
	if err := c.doJSON(ctx, http.MethodPatch, tmRoot+"/notes/"+url.PathEscape(noteID), note, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteNote removes a note.
func (c *RestClient) DeleteNote(ctx context.Context, noteID string) error {
	return c.doJSON(ctx, http.MethodDelete, tmRoot+"/notes/"+url.PathEscape(noteID), nil, nil)
}

// --- Teams ---

// AddTeamMembers adds members to a team chat.
func (c *RestClient) AddTeamMembers(ctx context.Context, teamID string, memberIDs []string) error {
	members := make([]IDOnly, 0, len(memberIDs))
	for _, id := range memberIDs {
		members = append(members, IDOnly{ID: id})
	}
	body := map[string]interface{}{"members": members}
	return c.doJSON(ctx, http.MethodPost, tmRoot+"/teams/"+url.PathEscape(teamID)+"/add", body, nil)
}

// RemoveTeamMembers removes members from a team chat.
func (c *RestClient) RemoveTeamMembers(ctx context.Context, teamID string, memberIDs []string) error {
	members := make([]IDOnly, 0, len(memberIDs))
	for _, id := range memberIDs {
		members = append(members, IDOnly{ID: id})
	}
	body := map[string]interface{}{"members": members}
	return c.doJSON(ctx, http.MethodPost, tmRoot+"/teams/"+url.PathEscape(teamID)+"/remove", body, nil)
}

// ArchiveTeam archives a team chat.
func (c *RestClient) ArchiveTeam(ctx context.Context, teamID string) error {
	return c.doJSON(ctx, http.MethodPost, tmRoot+"/teams/"+url.PathEscape(teamID)+"/archive", nil, nil)
}

// UnarchiveTeam restores an archived team chat.
func (c *RestClient) UnarchiveTeam(ctx context.Context, teamID string) error {
	return c.doJSON(ctx, http.MethodPost, tmRoot+"/teams/"+url.PathEscape(teamID)+"/unarchive", nil, nil)
}

// --- Subscription ---

// RevokeSubscription deletes a server-side push subscription.
func (c *RestClient) RevokeSubscription(ctx context.Context, subscriptionID string) error {
	return c.doJSON(ctx, http.MethodDelete, restRoot+"/subscription/"+url.PathEscape(subscriptionID), nil, nil)
}
