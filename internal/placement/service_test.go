package placement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"campushire/internal/auth"
	"campushire/internal/database"
	"campushire/internal/ingest"
	"campushire/internal/notify"
)

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	channel string
	message any
}

func (b *fakeBroadcaster) Publish(_ context.Context, channel string, message any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, publishedEvent{channel: channel, message: message})
	return nil
}

func (b *fakeBroadcaster) creditEvents() []notify.CreditUpdatedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []notify.CreditUpdatedMessage
	for _, ev := range b.events {
		if msg, ok := ev.message.(notify.CreditUpdatedMessage); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (b *fakeBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

type fakeRosterSource struct {
	objects map[string]string
}

func (s *fakeRosterSource) FetchOriginal(_ context.Context, objectKey string) (io.ReadCloser, error) {
	content, ok := s.objects[objectKey]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, rosters RosterSource) (*Service, *gorm.DB, *fakeBroadcaster) {
	t.Helper()
	db := newTestDB(t)
	broadcaster := &fakeBroadcaster{}
	return NewService(db, broadcaster, rosters, nil), db, broadcaster
}

func seedOfficer(t *testing.T, db *gorm.DB, status string) *database.PlacementOfficer {
	t.Helper()
	officer := database.PlacementOfficer{
		Name:         "Placement Cell",
		Email:        fmt.Sprintf("cell-%d@college.edu", time.Now().UnixNano()),
		CollegeName:  "Test College",
		PasswordHash: "x",
		Status:       status,
	}
	if err := db.Create(&officer).Error; err != nil {
		t.Fatalf("seed officer: %v", err)
	}
	return &officer
}

func seedFile(t *testing.T, db *gorm.DB, officerID uint, status string, rows []ingest.StudentRow) *database.UploadedFile {
	t.Helper()
	file := database.UploadedFile{
		PlacementOfficerID: officerID,
		OriginalName:       "students.csv",
		Status:             status,
		UploadedAt:         time.Now(),
	}
	if rows != nil {
		data, err := json.Marshal(rows)
		if err != nil {
			t.Fatalf("marshal rows: %v", err)
		}
		file.StructuredData = datatypes.JSON(data)
	}
	if err := db.Create(&file).Error; err != nil {
		t.Fatalf("seed file: %v", err)
	}
	return &file
}

func studentRows(emails ...string) []ingest.StudentRow {
	rows := make([]ingest.StudentRow, 0, len(emails))
	for i, email := range emails {
		rows = append(rows, ingest.StudentRow{
			Name:   fmt.Sprintf("Student %d", i+1),
			Email:  email,
			Course: ingest.DefaultCourse,
		})
	}
	return rows
}

func adminActor() Actor { return Actor{ID: 1, Role: auth.RoleAdmin} }

func officerActor(id uint) Actor {
	return Actor{ID: id, Role: auth.RolePlacement}
}

func TestApproveOnlyFromPending(t *testing.T) {
	svc, db, _ := newTestService(t, nil)
	officer := seedOfficer(t, db, database.StatusApproved)
	file := seedFile(t, db, officer.ID, database.StatusPending, nil)
	ctx := context.Background()

	if err := svc.Approve(ctx, adminActor(), officer.ID, file.ID); err != nil {
		t.Fatalf("approve pending file: %v", err)
	}

	var got database.UploadedFile
	if err := db.First(&got, file.ID).Error; err != nil {
		t.Fatalf("reload file: %v", err)
	}
	if got.Status != database.StatusApproved {
		t.Fatalf("status = %q, want approved", got.Status)
	}
	if got.ApprovedAt == nil {
		t.Fatal("approvedAt not set")
	}

	// 再次审批同一文件必须失败，且不改写任何字段。
	if err := svc.Approve(ctx, adminActor(), officer.ID, file.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second approve err = %v, want ErrInvalidTransition", err)
	}
}

func TestApproveRequiresAdmin(t *testing.T) {
	svc, db, _ := newTestService(t, nil)
	officer := seedOfficer(t, db, database.StatusApproved)
	file := seedFile(t, db, officer.ID, database.StatusPending, nil)

	if err := svc.Approve(context.Background(), officerActor(officer.ID), officer.ID, file.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("approve as officer err = %v, want ErrPermissionDenied", err)
	}
}

func TestRejectIsTerminal(t *testing.T) {
	svc, db, _ := newTestService(t, nil)
	officer := seedOfficer(t, db, database.StatusApproved)
	file := seedFile(t, db, officer.ID, database.StatusApproved, nil)
	ctx := context.Background()

	if err := svc.Reject(ctx, adminActor(), officer.ID, file.ID); err != nil {
		t.Fatalf("reject approved file: %v", err)
	}

	// 驳回后既不能再审批也不能处理。
	if err := svc.Approve(ctx, adminActor(), officer.ID, file.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("approve rejected err = %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.Process(ctx, adminActor(), officer.ID, file.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("process rejected err = %v, want ErrInvalidTransition", err)
	}
}

func TestRejectAfterProcessedFails(t *testing.T) {
	svc, db, _ := newTestService(t, nil)
	officer := seedOfficer(t, db, database.StatusApproved)
	file := seedFile(t, db, officer.ID, database.StatusApproved, studentRows("a@example.com"))
	ctx := context.Background()

	if _, err := svc.Process(ctx, adminActor(), officer.ID, file.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := svc.Reject(ctx, adminActor(), officer.ID, file.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reject processed err = %v, want ErrInvalidTransition", err)
	}
}

func TestProcessImplicitlyApprovesPending(t *testing.T) {
	svc, db, _ := newTestService(t, nil)
	officer := seedOfficer(t, db, database.StatusApproved)
	file := seedFile(t, db, officer.ID, database.StatusPending, studentRows("a@example.com", "b@example.com"))

	result, err := svc.Process(context.Background(), adminActor(), officer.ID, file.ID)
	if err != nil {
		t.Fatalf("process pending file: %v", err)
	}
	if result.Created != 2 {
		t.Fatalf("created = %d, want 2", result.Created)
	}

	var got database.UploadedFile
	if err := db.First(&got, file.ID).Error; err != nil {
		t.Fatalf("reload file: %v", err)
	}
	if got.Status != database.StatusProcessed {
		t.Fatalf("status = %q, want processed", got.Status)
	}
	if got.ProcessedAt == nil {
		t.Fatal("processedAt not set")
	}
	if got.CandidatesCreated != 2 {
		t.Fatalf("candidatesCreated = %d, want 2", got.CandidatesCreated)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	svc, db, _ := newTestService(t, nil)
	officer := seedOfficer(t, db, database.StatusApproved)
	file := seedFile(t, db, officer.ID, database.StatusApproved,
		studentRows("a@example.com", "b@example.com", "c@example.com"))
	ctx := context.Background()

	first, err := svc.Process(ctx, adminActor(), officer.ID, file.ID)
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	if first.Created != 3 || first.Skipped != 0 {
		t.Fatalf("first run created=%d skipped=%d, want 3/0", first.Created, first.Skipped)
	}

	var processedAt time.Time
	{
		var got database.UploadedFile
		if err := db.First(&got, file.ID).Error; err != nil {
			t.Fatalf("reload file: %v", err)
		}
		processedAt = *got.ProcessedAt
	}

	second, err := svc.Process(ctx, adminActor(), officer.ID, file.ID)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if second.Created != 0 || second.Skipped != 3 {
		t.Fatalf("second run created=%d skipped=%d, want 0/3", second.Created, second.Skipped)
	}
	if !second.AlreadyProcessed {
		t.Fatal("second run should report already processed")
	}

	var count int64
	if err := db.Model(&database.Candidate{}).Count(&count).Error; err != nil {
		t.Fatalf("count candidates: %v", err)
	}
	if count != 3 {
		t.Fatalf("candidate count = %d, want 3", count)
	}

	var got database.UploadedFile
	if err := db.First(&got, file.ID).Error; err != nil {
		t.Fatalf("reload file: %v", err)
	}
	if !got.ProcessedAt.Equal(processedAt) {
		t.Fatalf("processedAt changed on idempotent rerun: %v -> %v", processedAt, got.ProcessedAt)
	}
	if got.CandidatesCreated != 3 {
		t.Fatalf("candidatesCreated = %d, want 3", got.CandidatesCreated)
	}
}

func TestCrossFileDedupKeepsExistingAccount(t *testing.T) {
	svc, db, _ := newTestService(t, nil)
	officer := seedOfficer(t, db, database.StatusApproved)
	ctx := context.Background()

	fileA := seedFile(t, db, officer.ID, database.StatusApproved, studentRows("shared@example.com"))
	if _, err := svc.Process(ctx, adminActor(), officer.ID, fileA.ID); err != nil {
		t.Fatalf("process first file: %v", err)
	}

	var original database.Candidate
	if err := db.Where("email = ?", "shared@example.com").First(&original).Error; err != nil {
		t.Fatalf("load candidate: %v", err)
	}

	rows := studentRows("shared@example.com")
	rows[0].Password = "different-password"
	fileB := seedFile(t, db, officer.ID, database.StatusApproved, rows)

	result, err := svc.Process(ctx, adminActor(), officer.ID, fileB.ID)
	if err != nil {
		t.Fatalf("process second file: %v", err)
	}
	if result.Created != 0 || result.Skipped != 1 {
		t.Fatalf("created=%d skipped=%d, want 0/1", result.Created, result.Skipped)
	}

	var after database.Candidate
	if err := db.Where("email = ?", "shared@example.com").First(&after).Error; err != nil {
		t.Fatalf("reload candidate: %v", err)
	}
	if after.PasswordHash != original.PasswordHash {
		t.Fatal("existing credentials were overwritten")
	}
	if after.SourceFileID != fileA.ID {
		t.Fatalf("sourceFileID = %d, want %d", after.SourceFileID, fileA.ID)
	}
}

func TestProcessPermissions(t *testing.T) {
	svc, db, _ := newTestService(t, nil)
	owner := seedOfficer(t, db, database.StatusApproved)
	other := seedOfficer(t, db, database.StatusApproved)
	file := seedFile(t, db, owner.ID, database.StatusApproved, studentRows("a@example.com"))
	ctx := context.Background()

	if _, err := svc.Process(ctx, officerActor(other.ID), owner.ID, file.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("process as other officer err = %v, want ErrPermissionDenied", err)
	}
	if _, err := svc.Process(ctx, officerActor(owner.ID), owner.ID, file.ID); err != nil {
		t.Fatalf("process as owner: %v", err)
	}
}

func TestFileCreditUpdateIsIsolated(t *testing.T) {
	svc, db, broadcaster := newTestService(t, nil)
	officer := seedOfficer(t, db, database.StatusApproved)
	ctx := context.Background()

	fileA := seedFile(t, db, officer.ID, database.StatusApproved, studentRows("a1@example.com", "a2@example.com"))
	fileB := seedFile(t, db, officer.ID, database.StatusApproved, studentRows("b1@example.com"))
	if _, err := svc.Process(ctx, adminActor(), officer.ID, fileA.ID); err != nil {
		t.Fatalf("process file A: %v", err)
	}
	if _, err := svc.Process(ctx, adminActor(), officer.ID, fileB.ID); err != nil {
		t.Fatalf("process file B: %v", err)
	}
	broadcaster.reset()

	affected, err := svc.UpdateFileCredits(ctx, adminActor(), officer.ID, fileA.ID, 50)
	if err != nil {
		t.Fatalf("update file credits: %v", err)
	}
	if affected != 2 {
		t.Fatalf("affected = %d, want 2", affected)
	}

	var fromA []database.Candidate
	if err := db.Where("source_file_id = ?", fileA.ID).Find(&fromA).Error; err != nil {
		t.Fatalf("load file A candidates: %v", err)
	}
	for _, cand := range fromA {
		if cand.Credits != 50 {
			t.Fatalf("candidate %d credits = %d, want 50", cand.ID, cand.Credits)
		}
	}

	var fromB database.Candidate
	if err := db.Where("source_file_id = ?", fileB.ID).First(&fromB).Error; err != nil {
		t.Fatalf("load file B candidate: %v", err)
	}
	if fromB.Credits != 0 {
		t.Fatalf("unrelated candidate credits = %d, want 0", fromB.Credits)
	}

	events := broadcaster.creditEvents()
	if len(events) != 2 {
		t.Fatalf("credit events = %d, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Credits != 50 {
			t.Fatalf("event credits = %d, want 50", ev.Credits)
		}
	}
}

func TestCreditsOutOfRange(t *testing.T) {
	svc, db, _ := newTestService(t, nil)
	officer := seedOfficer(t, db, database.StatusApproved)
	file := seedFile(t, db, officer.ID, database.StatusApproved, nil)
	ctx := context.Background()

	if _, err := svc.UpdateFileCredits(ctx, adminActor(), officer.ID, file.ID, -1); !errors.Is(err, ErrCreditsOutOfRange) {
		t.Fatalf("negative credits err = %v, want ErrCreditsOutOfRange", err)
	}
	if _, err := svc.UpdateFileCredits(ctx, adminActor(), officer.ID, file.ID, MaxCredits+1); !errors.Is(err, ErrCreditsOutOfRange) {
		t.Fatalf("oversized credits err = %v, want ErrCreditsOutOfRange", err)
	}
}

func TestUploadRequiresApprovedOfficer(t *testing.T) {
	svc, db, _ := newTestService(t, nil)
	pendingOfficer := seedOfficer(t, db, database.StatusPending)
	ctx := context.Background()

	if _, err := svc.RegisterUpload(ctx, pendingOfficer.ID, "students.csv", "", "key"); !errors.Is(err, ErrOfficerNotApproved) {
		t.Fatalf("upload for pending officer err = %v, want ErrOfficerNotApproved", err)
	}
	if _, err := svc.RegisterUpload(ctx, 9999, "students.csv", "", "key"); !errors.Is(err, ErrOfficerNotFound) {
		t.Fatalf("upload for missing officer err = %v, want ErrOfficerNotFound", err)
	}
}

// 端到端场景：一份含 3 行的 CSV（其中一行缺邮箱），处理后开通 2 个账号，
// 再批量改写 credits 为 20，应只推送 2 条 credit-updated 事件。
func TestRosterScenario(t *testing.T) {
	const roster = "Candidate Name,Email,Phone,Course\n" +
		"Alice,alice@example.com,111,CS\n" +
		"Bob,,222,EE\n" +
		"Carol,carol@example.com,333,ME\n"

	rosters := &fakeRosterSource{objects: map[string]string{"rosters/1/file.csv": roster}}
	svc, db, broadcaster := newTestService(t, rosters)
	officer := seedOfficer(t, db, database.StatusApproved)
	ctx := context.Background()

	file := database.UploadedFile{
		PlacementOfficerID: officer.ID,
		OriginalName:       "file.csv",
		ObjectKey:          "rosters/1/file.csv",
		Status:             database.StatusApproved,
		UploadedAt:         time.Now(),
	}
	if err := db.Create(&file).Error; err != nil {
		t.Fatalf("seed file: %v", err)
	}

	result, err := svc.Process(ctx, adminActor(), officer.ID, file.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Created != 2 {
		t.Fatalf("created = %d, want 2", result.Created)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("row errors = %d, want 1", len(result.Errors))
	}
	if result.Errors[0].Row != 2 {
		t.Fatalf("error row = %d, want 2", result.Errors[0].Row)
	}

	broadcaster.reset()
	affected, err := svc.BulkUpdateCredits(ctx, adminActor(), officer.ID, 20)
	if err != nil {
		t.Fatalf("bulk update credits: %v", err)
	}
	if affected != 2 {
		t.Fatalf("affected = %d, want 2", affected)
	}

	events := broadcaster.creditEvents()
	if len(events) != 2 {
		t.Fatalf("credit events = %d, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Credits != 20 {
			t.Fatalf("event credits = %d, want 20", ev.Credits)
		}
	}

	var candidates []database.Candidate
	if err := db.Order("email").Find(&candidates).Error; err != nil {
		t.Fatalf("load candidates: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("candidate count = %d, want 2", len(candidates))
	}
	if candidates[0].Email != "alice@example.com" || candidates[1].Email != "carol@example.com" {
		t.Fatalf("unexpected candidates: %s, %s", candidates[0].Email, candidates[1].Email)
	}
	for _, cand := range candidates {
		if cand.Credits != 20 {
			t.Fatalf("candidate %s credits = %d, want 20", cand.Email, cand.Credits)
		}
		if cand.Course == "" {
			t.Fatalf("candidate %s missing course", cand.Email)
		}
	}
}

func TestStoreStructuredData(t *testing.T) {
	const roster = "Name,Email\nAlice,alice@example.com\n"
	rosters := &fakeRosterSource{objects: map[string]string{"rosters/1/file.csv": roster}}
	svc, db, _ := newTestService(t, rosters)
	officer := seedOfficer(t, db, database.StatusApproved)
	ctx := context.Background()

	file := database.UploadedFile{
		PlacementOfficerID: officer.ID,
		OriginalName:       "file.csv",
		ObjectKey:          "rosters/1/file.csv",
		Status:             database.StatusPending,
		UploadedAt:         time.Now(),
	}
	if err := db.Create(&file).Error; err != nil {
		t.Fatalf("seed file: %v", err)
	}

	count, err := svc.StoreStructuredData(ctx, officerActor(officer.ID), officer.ID, file.ID)
	if err != nil {
		t.Fatalf("store structured data: %v", err)
	}
	if count != 1 {
		t.Fatalf("stored rows = %d, want 1", count)
	}

	// 保存后即使原始对象消失也能继续出行。
	delete(rosters.objects, "rosters/1/file.csv")
	rows, err := svc.FileRows(ctx, officer.ID, file.ID)
	if err != nil {
		t.Fatalf("rows after archive gone: %v", err)
	}
	if len(rows) != 1 || rows[0].Email != "alice@example.com" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestFileRowsWithoutAnySource(t *testing.T) {
	svc, db, _ := newTestService(t, nil)
	officer := seedOfficer(t, db, database.StatusApproved)
	file := seedFile(t, db, officer.ID, database.StatusPending, nil)

	if _, err := svc.FileRows(context.Background(), officer.ID, file.ID); !errors.Is(err, ErrNoRoster) {
		t.Fatalf("rows err = %v, want ErrNoRoster", err)
	}
}
