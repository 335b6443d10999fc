package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wabridge/pkg/constant"
	"github.com/wabridge/pkg/entities"
	"github.com/wabridge/pkg/protocol"
	"gorm.io/gorm"
)

// fakeRepo is an in-memory Repository for exercising the manager, pipeline
// and bridge without a database.
type fakeRepo struct {
	mu       sync.Mutex
	nextID   uint
	sessions map[uint]entities.WhatsAppSession
	messages []entities.WhatsAppMessage
	groups   []entities.WhatsAppGroup
	members  []entities.WhatsAppGroupMember

	releasedOwners []uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sessions: make(map[uint]entities.WhatsAppSession)}
}

func (r *fakeRepo) nextRowID() uint {
	r.nextID++
	return r.nextID
}

func (r *fakeRepo) UpsertSessionStatus(_ context.Context, tenantID uint, status, qrCode, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.sessions[tenantID]
	row.TenantID = tenantID
	row.Status = status
	row.QRCode = qrCode
	row.PhoneNumber = phone
	r.sessions[tenantID] = row
	return nil
}

func (r *fakeRepo) GetSession(_ context.Context, tenantID uint) (entities.WhatsAppSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.sessions[tenantID]
	if !ok {
		return entities.WhatsAppSession{}, gorm.ErrRecordNotFound
	}
	return row, nil
}

func (r *fakeRepo) UpsertMessage(_ context.Context, msg *entities.WhatsAppMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].TenantID == msg.TenantID && r.messages[i].MessageID == msg.MessageID {
			id := r.messages[i].ID
			r.messages[i] = *msg
			r.messages[i].ID = id
			return nil
		}
	}
	msg.ID = r.nextRowID()
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *fakeRepo) CreateOutbound(_ context.Context, msg *entities.WhatsAppMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.ID = r.nextRowID()
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *fakeRepo) FinishOutbound(_ context.Context, rowID uint, messageID, status string, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].ID == rowID {
			r.messages[i].MessageID = messageID
			r.messages[i].Status = status
			r.messages[i].MessageTimestamp = sentAt
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepo) PendingOutbound(_ context.Context) ([]entities.WhatsAppMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.WhatsAppMessage
	for _, m := range r.messages {
		if m.Direction == constant.DirectionOutbound && m.Status == constant.StatusPending {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkDelivered(_ context.Context, tenantID uint, messageIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = true
	}
	for i := range r.messages {
		m := &r.messages[i]
		if m.TenantID == tenantID && ids[m.MessageID] &&
			m.Direction == constant.DirectionOutbound && m.Status == constant.StatusSent {
			m.Status = constant.StatusDelivered
		}
	}
	return nil
}

func (r *fakeRepo) MessagesPage(_ context.Context, tenantID uint, chatJID string, page int) ([]entities.WhatsAppMessage, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.WhatsAppMessage
	for _, m := range r.messages {
		if m.TenantID == tenantID && (chatJID == "" || m.ChatJID == chatJID) {
			out = append(out, m)
		}
	}
	if page != 1 {
		return nil, 0, errors.New("page number out of range")
	}
	return out, 1, nil
}

func (r *fakeRepo) GetGroupByJID(_ context.Context, groupJID string) (entities.WhatsAppGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if g.GroupJID == groupJID {
			return g, nil
		}
	}
	return entities.WhatsAppGroup{}, gorm.ErrRecordNotFound
}

func (r *fakeRepo) UpsertGroup(_ context.Context, group *entities.WhatsAppGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.groups {
		if r.groups[i].GroupJID == group.GroupJID {
			id := r.groups[i].ID
			r.groups[i] = *group
			r.groups[i].ID = id
			return nil
		}
	}
	group.ID = r.nextRowID()
	r.groups = append(r.groups, *group)
	return nil
}

func (r *fakeRepo) UpdateGroup(_ context.Context, rowID uint, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.groups {
		if r.groups[i].ID != rowID {
			continue
		}
		if v, ok := updates["group_jid"].(string); ok {
			r.groups[i].GroupJID = v
		}
		if v, ok := updates["status"].(string); ok {
			r.groups[i].Status = v
		}
		return nil
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepo) DeleteGroup(_ context.Context, groupJID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var groups []entities.WhatsAppGroup
	for _, g := range r.groups {
		if g.GroupJID != groupJID {
			groups = append(groups, g)
		}
	}
	r.groups = groups
	var members []entities.WhatsAppGroupMember
	for _, m := range r.members {
		if m.GroupJID != groupJID {
			members = append(members, m)
		}
	}
	r.members = members
	return nil
}

func (r *fakeRepo) GroupsByStatus(_ context.Context, status string) ([]entities.WhatsAppGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.WhatsAppGroup
	for _, g := range r.groups {
		if g.Status == status {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *fakeRepo) ReleaseOwnedGroups(_ context.Context, tenantID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releasedOwners = append(r.releasedOwners, tenantID)
	for i := range r.groups {
		if r.groups[i].OwnerID != nil && *r.groups[i].OwnerID == tenantID {
			r.groups[i].OwnerID = nil
		}
	}
	return nil
}

func (r *fakeRepo) ReassignMembers(_ context.Context, oldJID, newJID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.members {
		if r.members[i].GroupJID == oldJID {
			r.members[i].GroupJID = newJID
			r.members[i].Status = constant.MemberActive
		}
	}
	return nil
}

func (r *fakeRepo) UpsertMember(_ context.Context, member *entities.WhatsAppGroupMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.members {
		if r.members[i].GroupJID == member.GroupJID && r.members[i].Phone == member.Phone {
			id := r.members[i].ID
			r.members[i] = *member
			r.members[i].ID = id
			return nil
		}
	}
	member.ID = r.nextRowID()
	r.members = append(r.members, *member)
	return nil
}

func (r *fakeRepo) MembersOfGroup(_ context.Context, groupJID string) ([]entities.WhatsAppGroupMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.WhatsAppGroupMember
	for _, m := range r.members {
		if m.GroupJID == groupJID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeRepo) PendingMembers(_ context.Context) ([]entities.WhatsAppGroupMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.WhatsAppGroupMember
	for _, m := range r.members {
		if m.Status == constant.MemberPending {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkMemberActive(_ context.Context, rowID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.members {
		if r.members[i].ID == rowID {
			r.members[i].Status = constant.MemberActive
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepo) messagesFor(tenantID uint) []entities.WhatsAppMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.WhatsAppMessage
	for _, m := range r.messages {
		if m.TenantID == tenantID {
			out = append(out, m)
		}
	}
	return out
}

func (r *fakeRepo) groupByJID(jid string) (entities.WhatsAppGroup, bool) {
	g, err := r.GetGroupByJID(context.Background(), jid)
	return g, err == nil
}

type sentText struct {
	ToJID string
	Text  string
}

// fakeDriver is a scriptable protocol.Driver.
type fakeDriver struct {
	mu        sync.Mutex
	handlers  []protocol.EventHandler
	connected bool
	phone     string

	connectErr error
	sendErr    error
	sent       []sentText

	createdJID string
	createErr  error
	groups     []protocol.GroupInfo
	groupsErr  error

	logoutCalls int
	leftGroups  []string
	added       []string
	removed     []string
	contacts    map[string]string
}

func (d *fakeDriver) AddEventHandler(h protocol.EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

func (d *fakeDriver) emit(evt interface{}) {
	d.mu.Lock()
	handlers := append([]protocol.EventHandler(nil), d.handlers...)
	d.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

func (d *fakeDriver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		return d.connectErr
	}
	d.connected = true
	return nil
}

func (d *fakeDriver) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
}

func (d *fakeDriver) Logout(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logoutCalls++
	return nil
}

func (d *fakeDriver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *fakeDriver) OwnPhone() string { return d.phone }

func (d *fakeDriver) SendText(_ context.Context, toJID, text string) (protocol.SendReceipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return protocol.SendReceipt{}, d.sendErr
	}
	d.sent = append(d.sent, sentText{ToJID: toJID, Text: text})
	return protocol.SendReceipt{
		ID:        fmt.Sprintf("3EB0TEST%04d", len(d.sent)),
		Timestamp: time.Now(),
	}, nil
}

func (d *fakeDriver) CreateGroup(_ context.Context, _ string, _ []string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return "", d.createErr
	}
	return d.createdJID, nil
}

func (d *fakeDriver) AddGroupParticipant(_ context.Context, groupJID, phone string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.added = append(d.added, groupJID+"|"+phone)
	return nil
}

func (d *fakeDriver) RemoveGroupParticipant(_ context.Context, groupJID, phone string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = append(d.removed, groupJID+"|"+phone)
	return nil
}

func (d *fakeDriver) LeaveGroup(_ context.Context, groupJID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leftGroups = append(d.leftGroups, groupJID)
	return nil
}

func (d *fakeDriver) JoinedGroups(context.Context) ([]protocol.GroupInfo, error) {
	if d.groupsErr != nil {
		return nil, d.groupsErr
	}
	return d.groups, nil
}

func (d *fakeDriver) ContactName(_ context.Context, jid string) string {
	return d.contacts[jid]
}

// fakeCreds is an in-memory CredentialProvider.
type fakeCreds struct {
	mu         sync.Mutex
	stored     map[uint]protocol.Credentials
	provisions int
	purges     []uint
	persists   int
}

func newFakeCreds() *fakeCreds {
	return &fakeCreds{stored: make(map[uint]protocol.Credentials)}
}

type fakeToken struct{ tenantID uint }

func (c *fakeCreds) Load(_ context.Context, tenantID uint) (protocol.Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	creds, ok := c.stored[tenantID]
	if !ok {
		return nil, nil
	}
	return creds, nil
}

func (c *fakeCreds) Provision(_ context.Context, tenantID uint) (protocol.Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provisions++
	creds := &fakeToken{tenantID: tenantID}
	c.stored[tenantID] = creds
	return creds, nil
}

func (c *fakeCreds) Persist(_ context.Context, creds protocol.Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persists++
	return nil
}

func (c *fakeCreds) Purge(_ context.Context, tenantID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purges = append(c.purges, tenantID)
	delete(c.stored, tenantID)
	return nil
}

func (c *fakeCreds) Tenants(context.Context) ([]uint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []uint
	for id := range c.stored {
		out = append(out, id)
	}
	return out, nil
}

// testHarness bundles a manager wired to fakes. The factory hands out the
// same driver for every tenant unless drivers are queued per call.
type testHarness struct {
	repo    *fakeRepo
	creds   *fakeCreds
	driver  *fakeDriver
	mgr     *Manager
	factory int
}

func newTestHarness() *testHarness {
	h := &testHarness{
		repo:   newFakeRepo(),
		creds:  newFakeCreds(),
		driver: &fakeDriver{phone: "905554443322"},
	}
	h.mgr = NewManager(h.repo, h.creds, nil, func(protocol.Credentials) (protocol.Driver, error) {
		h.factory++
		return h.driver, nil
	})
	return h
}

// connect starts the tenant session and walks it to connected.
func (h *testHarness) connect(tenantID uint) *Session {
	_ = h.mgr.Start(context.Background(), tenantID)
	h.driver.emit(&protocol.ConnectedEvent{JID: h.driver.phone + "@s.whatsapp.net", Phone: h.driver.phone})
	return h.mgr.Session(tenantID)
}
