package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragchat-go/internal/model"
	"ragchat-go/internal/repository"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]*model.User{}}
}

func (m *memUsers) Create(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := *user
	u.CreatedAt = time.Now()
	m.users[u.ID] = &u
	return nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *memUsers) Update(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := *user
	m.users[u.ID] = &u
	return nil
}

func (m *memUsers) FindWithPagination(_ context.Context, offset, limit int) ([]model.User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

type memConversations struct {
	mu       sync.Mutex
	convs    map[string]*model.Conversation
	messages []model.Message
}

func newMemConversations() *memConversations {
	return &memConversations{convs: map[string]*model.Conversation{}}
}

func (m *memConversations) Create(_ context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	c := *conv
	m.convs[c.ID] = &c
	return nil
}

func (m *memConversations) FindByID(_ context.Context, id string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConversations) ListByUser(_ context.Context, userID string) ([]model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Conversation
	for _, c := range m.convs {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memConversations) RenameConversation(_ context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Title = title
	return nil
}

func (m *memConversations) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; !ok {
		return repository.ErrNotFound
	}
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.ConversationID != id {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	delete(m.convs, id)
	return nil
}

func (m *memConversations) AppendMessage(_ context.Context, conversationID string, sender model.Sender, content string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[conversationID]; !ok {
		return nil, repository.ErrNotFound
	}
	msg := model.Message{ID: uuid.NewString(), ConversationID: conversationID, Sender: sender, Content: content}
	m.messages = append(m.messages, msg)
	return &msg, nil
}

func (m *memConversations) ReadHistory(_ context.Context, conversationID string) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memConversations) CountMessages(_ context.Context, ids []string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int64{}
	for _, msg := range m.messages {
		out[msg.ConversationID]++
	}
	return out, nil
}

func (m *memConversations) UserStats(_ context.Context, userIDs []string) (map[string]int64, map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	convs, msgs := map[string]int64{}, map[string]int64{}
	for _, c := range m.convs {
		convs[c.UserID]++
	}
	for _, msg := range m.messages {
		if c, ok := m.convs[msg.ConversationID]; ok {
			msgs[c.UserID]++
		}
	}
	return convs, msgs, nil
}

type memTraining struct {
	mu       sync.Mutex
	docs     map[string]*model.TrainingDoc
	websites map[string]*model.TrainingWebsite
}

func newMemTraining() *memTraining {
	return &memTraining{docs: map[string]*model.TrainingDoc{}, websites: map[string]*model.TrainingWebsite{}}
}

func (m *memTraining) CreateDoc(_ context.Context, doc *model.TrainingDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := *doc
	m.docs[d.ID] = &d
	return nil
}

func (m *memTraining) FindDoc(_ context.Context, id string) (*model.TrainingDoc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memTraining) ListDocs(_ context.Context) ([]model.TrainingDoc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TrainingDoc
	for _, d := range m.docs {
		out = append(out, *d)
	}
	return out, nil
}

func (m *memTraining) DeleteDoc(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *memTraining) CreateWebsites(_ context.Context, pages []*model.TrainingWebsite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pages {
		cp := *p
		m.websites[cp.ID] = &cp
	}
	return nil
}

func (m *memTraining) FindWebsite(_ context.Context, id string) (*model.TrainingWebsite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.websites[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *memTraining) ListWebsites(_ context.Context) ([]model.TrainingWebsite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TrainingWebsite
	for _, w := range m.websites {
		if w.ParentID == nil {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (m *memTraining) ListChildren(_ context.Context, parentID string) ([]model.TrainingWebsite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TrainingWebsite
	for _, w := range m.websites {
		if w.ParentID != nil && *w.ParentID == parentID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (m *memTraining) DeleteWebsites(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.websites, id)
	}
	return nil
}

func (m *memTraining) UpdateStatus(_ context.Context, kind model.SourceKind, id string, status model.TrainingStatus, chars int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case model.SourceDocument:
		d, ok := m.docs[id]
		if !ok {
			return repository.ErrNotFound
		}
		d.Status = status
		if chars >= 0 {
			d.CharacterCount = chars
		}
	case model.SourceWebsite:
		w, ok := m.websites[id]
		if !ok {
			return repository.ErrNotFound
		}
		w.Status = status
		if chars >= 0 {
			w.CharacterCount = chars
		}
	}
	return nil
}
