package vault

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/clientportal/internal/model"
	"github.com/hitoshi/clientportal/internal/realtime"
)

// --- モック ---

type mockAttachmentRepo struct {
	items   map[string]*model.Attachment
	created []*model.Attachment
	deleted []string
}

func (m *mockAttachmentRepo) FindByID(_ context.Context, id string) (*model.Attachment, error) {
	return m.items[id], nil
}
func (m *mockAttachmentRepo) ListByTask(_ context.Context, taskID string) ([]*model.Attachment, error) {
	var list []*model.Attachment
	for _, a := range m.items {
		if a.TaskID == taskID {
			list = append(list, a)
		}
	}
	return list, nil
}
func (m *mockAttachmentRepo) Create(_ context.Context, a *model.Attachment) error {
	m.created = append(m.created, a)
	return nil
}
func (m *mockAttachmentRepo) Delete(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type mockAssetRepo struct {
	items       map[string]*model.WorkspaceAsset
	created     []*model.WorkspaceAsset
	deleted     []string
	gotCategory model.AssetCategory
}

func (m *mockAssetRepo) FindByID(_ context.Context, id string) (*model.WorkspaceAsset, error) {
	return m.items[id], nil
}
func (m *mockAssetRepo) ListByWorkspace(_ context.Context, _ string, category model.AssetCategory) ([]*model.WorkspaceAsset, error) {
	m.gotCategory = category
	return nil, nil
}
func (m *mockAssetRepo) FindByIDs(_ context.Context, ids []string) ([]*model.WorkspaceAsset, error) {
	var list []*model.WorkspaceAsset
	for _, id := range ids {
		if a, ok := m.items[id]; ok {
			list = append(list, a)
		}
	}
	return list, nil
}
func (m *mockAssetRepo) Create(_ context.Context, a *model.WorkspaceAsset) error {
	m.created = append(m.created, a)
	return nil
}
func (m *mockAssetRepo) Delete(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

// mockTasks はtask-1（ws-1）のみ閲覧可能とする。
type mockTasks struct{}

func (mockTasks) GetTask(_ context.Context, _, taskID string) (*model.Task, error) {
	if taskID == "task-1" {
		return &model.Task{ID: "task-1", WorkspaceID: "ws-1"}, nil
	}
	return nil, model.NewTaskNotFoundError(taskID)
}

// mockWorkspaces はws-1のみ閲覧可能とし、admin-1を管理者として扱う。
type mockWorkspaces struct{}

func (mockWorkspaces) Authorize(_ context.Context, userID, workspaceID string) (*model.Profile, error) {
	if workspaceID != "ws-1" {
		return nil, model.NewWorkspaceNotFoundError(workspaceID)
	}
	role := model.RoleClient
	if userID == "admin-1" {
		role = model.RoleAdmin
	}
	return &model.Profile{ID: userID, Role: role}, nil
}

type storeCall struct {
	op, bucket, key, extra string
}

type mockStore struct {
	calls     []storeCall
	deleteErr error
	getErrKey string
}

func (m *mockStore) PresignPut(_ context.Context, bucket, key, contentType string) (string, error) {
	m.calls = append(m.calls, storeCall{"put", bucket, key, contentType})
	return "https://storage.example.com/" + bucket + "/" + key + "?sig=put", nil
}
func (m *mockStore) PresignGet(_ context.Context, bucket, key, downloadName string) (string, error) {
	m.calls = append(m.calls, storeCall{"get", bucket, key, downloadName})
	if key == m.getErrKey {
		return "", errors.New("signing failed")
	}
	return "https://storage.example.com/" + bucket + "/" + key + "?sig=get", nil
}
func (m *mockStore) Delete(_ context.Context, bucket, key string) error {
	m.calls = append(m.calls, storeCall{"delete", bucket, key, ""})
	return m.deleteErr
}

type recordingPublisher struct {
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ string, e realtime.Event) {
	p.events = append(p.events, e)
}

type fixture struct {
	attachments *mockAttachmentRepo
	assets      *mockAssetRepo
	store       *mockStore
	pub         *recordingPublisher
	svc         *Service
}

func newFixture() *fixture {
	f := &fixture{
		attachments: &mockAttachmentRepo{items: map[string]*model.Attachment{
			"att-1": {ID: "att-1", TaskID: "task-1", StoragePath: "ws-1/task-1/x-brief.pdf", UploadedBy: "client-1"},
			"att-2": {ID: "att-2", TaskID: "task-9", StoragePath: "ws-9/task-9/y.pdf", UploadedBy: "client-1"},
		}},
		assets: &mockAssetRepo{items: map[string]*model.WorkspaceAsset{
			"as-1": {ID: "as-1", WorkspaceID: "ws-1", FileName: "logo.svg", StoragePath: "ws-1/a-logo.svg", UploadedBy: "client-1"},
			"as-2": {ID: "as-2", WorkspaceID: "ws-1", FileName: "guide.pdf", StoragePath: "ws-1/b-guide.pdf", UploadedBy: "client-2"},
			"as-9": {ID: "as-9", WorkspaceID: "ws-9", FileName: "secret.png", StoragePath: "ws-9/c-secret.png", UploadedBy: "client-9"},
		}},
		store: &mockStore{},
		pub:   &recordingPublisher{},
	}
	f.svc = NewService(f.attachments, f.assets, mockTasks{}, mockWorkspaces{}, f.store,
		Buckets{Attachments: "task-attachments", Assets: "workspace_assets"}, f.pub)
	return f
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %v", err)
	}
	if apiErr.Code != code {
		t.Errorf("code = %q, want %q", apiErr.Code, code)
	}
}

// --- テスト ---

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"brief.pdf", "brief.pdf"},
		{"My Logo (final).png", "My_Logo__final_.png"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\file.txt`, "file.txt"},
		{"ロゴ.svg", "__.svg"},
	}
	for _, tt := range tests {
		if got := SanitizeFileName(tt.in); got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRequestAttachmentUpload(t *testing.T) {
	f := newFixture()

	ticket, err := f.svc.RequestAttachmentUpload(context.Background(), "client-1", "task-1", "Brief v2.pdf", "application/pdf", 1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(ticket.StoragePath, "ws-1/task-1/") || !strings.HasSuffix(ticket.StoragePath, "-Brief_v2.pdf") {
		t.Errorf("StoragePath = %q", ticket.StoragePath)
	}
	if len(f.store.calls) != 1 || f.store.calls[0].bucket != "task-attachments" || f.store.calls[0].extra != "application/pdf" {
		t.Errorf("store calls = %+v", f.store.calls)
	}
}

func TestRequestAttachmentUpload_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		taskID   string
		fileName string
		size     int64
		wantCode string
	}{
		{"too large", "task-1", "a.bin", MaxAttachmentSize + 1, model.ErrCodeValidation},
		{"empty name", "task-1", " ", 10, model.ErrCodeValidation},
		{"hidden task", "task-9", "a.txt", 10, model.ErrCodeTaskNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.RequestAttachmentUpload(context.Background(), "client-1", tt.taskID, tt.fileName, "", tt.size)
			assertAPIErrorCode(t, err, tt.wantCode)
			if len(f.store.calls) != 0 {
				t.Error("no URL should be signed")
			}
		})
	}
}

func TestSaveAttachment_DefaultsFileType(t *testing.T) {
	f := newFixture()

	a, err := f.svc.SaveAttachment(context.Background(), "client-1", "task-1", SaveFileInput{
		FileName:    "notes",
		StoragePath: "ws-1/task-1/u-notes",
		FileSize:    12,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.FileType != "application/octet-stream" {
		t.Errorf("FileType = %q, want application/octet-stream", a.FileType)
	}
	if a.UploadedBy != "client-1" || len(f.attachments.created) != 1 {
		t.Errorf("attachment = %+v", a)
	}
	if len(f.pub.events) != 1 || f.pub.events[0].Table != "task_attachments" || f.pub.events[0].Type != realtime.EventInsert {
		t.Errorf("events = %+v", f.pub.events)
	}
}

func TestSaveAttachment_RejectsForeignPath(t *testing.T) {
	f := newFixture()

	_, err := f.svc.SaveAttachment(context.Background(), "client-1", "task-1", SaveFileInput{
		FileName:    "x.pdf",
		StoragePath: "ws-9/task-9/u-x.pdf",
	})
	assertAPIErrorCode(t, err, model.ErrCodeValidation)
	if len(f.attachments.created) != 0 {
		t.Error("metadata must not be saved")
	}
}

func TestAttachmentDownloadURL(t *testing.T) {
	f := newFixture()

	url, err := f.svc.AttachmentDownloadURL(context.Background(), "client-1", "att-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(url, "ws-1/task-1/x-brief.pdf") {
		t.Errorf("url = %q", url)
	}

	_, err = f.svc.AttachmentDownloadURL(context.Background(), "client-1", "att-2")
	assertAPIErrorCode(t, err, model.ErrCodeAttachmentNotFound)

	_, err = f.svc.AttachmentDownloadURL(context.Background(), "client-1", "missing")
	assertAPIErrorCode(t, err, model.ErrCodeAttachmentNotFound)
}

func TestDeleteAttachment_StorageBeforeRow(t *testing.T) {
	f := newFixture()

	if err := f.svc.DeleteAttachment(context.Background(), "client-1", "att-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.store.calls) != 1 || f.store.calls[0].op != "delete" || f.store.calls[0].key != "ws-1/task-1/x-brief.pdf" {
		t.Errorf("store calls = %+v", f.store.calls)
	}
	if len(f.attachments.deleted) != 1 || f.attachments.deleted[0] != "att-1" {
		t.Errorf("deleted rows = %v", f.attachments.deleted)
	}
	if len(f.pub.events) != 1 || f.pub.events[0].Type != realtime.EventDelete {
		t.Errorf("events = %+v", f.pub.events)
	}
}

func TestDeleteAttachment_StorageFailureKeepsRow(t *testing.T) {
	f := newFixture()
	f.store.deleteErr = errors.New("503")

	err := f.svc.DeleteAttachment(context.Background(), "admin-1", "att-1")
	assertAPIErrorCode(t, err, model.ErrCodeStorageFailed)
	if len(f.attachments.deleted) != 0 {
		t.Error("metadata row must be kept when the object could not be removed")
	}
}

func TestDeleteAttachment_OnlyUploaderOrAdmin(t *testing.T) {
	f := newFixture()

	err := f.svc.DeleteAttachment(context.Background(), "client-2", "att-1")
	assertAPIErrorCode(t, err, model.ErrCodeForbidden)

	if err := f.svc.DeleteAttachment(context.Background(), "admin-1", "att-1"); err != nil {
		t.Errorf("admin delete failed: %v", err)
	}
}

func TestSaveAsset(t *testing.T) {
	tests := []struct {
		name     string
		ws       string
		in       SaveFileInput
		wantCode string
	}{
		{"invalid category", "ws-1", SaveFileInput{FileName: "a.png", StoragePath: "ws-1/a.png", Category: "photos"}, model.ErrCodeValidation},
		{"foreign path", "ws-1", SaveFileInput{FileName: "a.png", StoragePath: "ws-9/a.png", Category: model.AssetLogos}, model.ErrCodeValidation},
		{"hidden workspace", "ws-9", SaveFileInput{FileName: "a.png", StoragePath: "ws-9/a.png", Category: model.AssetLogos}, model.ErrCodeWorkspaceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.SaveAsset(context.Background(), "client-1", tt.ws, tt.in)
			assertAPIErrorCode(t, err, tt.wantCode)
		})
	}

	t.Run("success", func(t *testing.T) {
		f := newFixture()
		asset, err := f.svc.SaveAsset(context.Background(), "client-1", "ws-1", SaveFileInput{
			FileName: "logo.svg", StoragePath: "ws-1/u-logo.svg", FileSize: 300, FileType: "image/svg+xml", Category: model.AssetLogos,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if asset.Category != model.AssetLogos || asset.FileType != "image/svg+xml" || asset.WorkspaceID != "ws-1" {
			t.Errorf("asset = %+v", asset)
		}
	})
}

func TestRequestAssetUpload(t *testing.T) {
	f := newFixture()

	ticket, err := f.svc.RequestAssetUpload(context.Background(), "client-1", "ws-1", "logo.svg", "image/svg+xml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(ticket.StoragePath, "ws-1/") || f.store.calls[0].bucket != "workspace_assets" {
		t.Errorf("ticket=%+v calls=%+v", ticket, f.store.calls)
	}
}

func TestListAssets_CategoryFilter(t *testing.T) {
	f := newFixture()

	if _, err := f.svc.ListAssets(context.Background(), "client-1", "ws-1", model.AssetGuidelines); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.assets.gotCategory != model.AssetGuidelines {
		t.Errorf("category = %q", f.assets.gotCategory)
	}

	_, err := f.svc.ListAssets(context.Background(), "client-1", "ws-1", "photos")
	assertAPIErrorCode(t, err, model.ErrCodeValidation)
}

func TestAssetURL_DownloadSetsFileName(t *testing.T) {
	f := newFixture()

	if _, err := f.svc.AssetURL(context.Background(), "client-1", "as-1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.AssetURL(context.Background(), "client-1", "as-1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.store.calls[0].extra != "logo.svg" || f.store.calls[1].extra != "" {
		t.Errorf("store calls = %+v", f.store.calls)
	}

	_, err := f.svc.AssetURL(context.Background(), "client-1", "as-9", false)
	assertAPIErrorCode(t, err, model.ErrCodeAssetNotFound)
}

func TestAssetPreviewURLs(t *testing.T) {
	f := newFixture()
	f.store.getErrKey = "ws-1/b-guide.pdf"

	urls, err := f.svc.AssetPreviewURLs(context.Background(), "client-1", "ws-1", []string{"as-1", "as-2", "as-9", "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 1 || urls["as-1"] == "" {
		t.Errorf("urls = %v, want only as-1", urls)
	}

	empty, err := f.svc.AssetPreviewURLs(context.Background(), "client-1", "ws-1", nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty = %v, err = %v", empty, err)
	}
}

func TestDeleteAsset(t *testing.T) {
	f := newFixture()

	err := f.svc.DeleteAsset(context.Background(), "client-1", "as-2")
	assertAPIErrorCode(t, err, model.ErrCodeForbidden)

	if err := f.svc.DeleteAsset(context.Background(), "client-1", "as-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.assets.deleted) != 1 || f.store.calls[0].key != "ws-1/a-logo.svg" {
		t.Errorf("deleted=%v calls=%+v", f.assets.deleted, f.store.calls)
	}
}
