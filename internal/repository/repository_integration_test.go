package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/taranggg/lms-sub000/internal/database"
	"github.com/taranggg/lms-sub000/internal/models"
)

type RepositoryIntegrationTestSuite struct {
	suite.Suite
	ctx      context.Context
	pgc      *postgres.PostgresContainer
	pool     *pgxpool.Pool
	sessions *SessionRepo
	messages *MessageRepo
}

func (s *RepositoryIntegrationTestSuite) SetupSuite() {
	s.ctx = context.Background()

	pgc, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("lms-test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err, "could not start postgres container")
	s.pgc = pgc

	connStr, err := pgc.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	pool, err := database.NewPostgresPool(connStr)
	s.Require().NoError(err)
	s.pool = pool

	s.Require().NoError(database.RunMigrations(pool))

	s.sessions = NewSessionRepo(pool)
	s.messages = NewMessageRepo(pool)
}

func (s *RepositoryIntegrationTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.pgc != nil {
		s.Require().NoError(s.pgc.Terminate(s.ctx))
	}
}

func (s *RepositoryIntegrationTestSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, "TRUNCATE trainer_sessions, batch_messages")
	s.Require().NoError(err)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *RepositoryIntegrationTestSuite) newSession(trainerID string, date, at time.Time) *models.TrainerSession {
	return &models.TrainerSession{TrainerID: trainerID, Date: date, StartTime: at, LastActiveAt: at}
}

func (s *RepositoryIntegrationTestSuite) TestResumeOrCreate_ResumesActiveRow() {
	t := s.T()
	d := day(2025, 3, 10)
	first := d.Add(9 * time.Hour)

	created, resumed, err := s.sessions.ResumeOrCreate(s.ctx, s.newSession("T1", d, first))
	require.NoError(t, err)
	require.False(t, resumed)
	require.Equal(t, models.SessionActive, created.Status)
	require.True(t, created.StartTime.Equal(first))

	again, resumed, err := s.sessions.ResumeOrCreate(s.ctx, s.newSession("T1", d, first.Add(time.Hour)))
	require.NoError(t, err)
	require.True(t, resumed)
	require.Equal(t, created.ID, again.ID)
	require.True(t, again.StartTime.Equal(first), "start time must not move on resume")
	require.True(t, again.LastActiveAt.Equal(first.Add(time.Hour)))

	// an older timestamp never moves lastActiveAt backwards
	stale, _, err := s.sessions.ResumeOrCreate(s.ctx, s.newSession("T1", d, first.Add(time.Minute)))
	require.NoError(t, err)
	require.True(t, stale.LastActiveAt.Equal(first.Add(time.Hour)))
}

func (s *RepositoryIntegrationTestSuite) TestResumeOrCreate_ConcurrentJoinsShareOneRow() {
	t := s.T()
	d := day(2025, 3, 10)
	at := d.Add(8 * time.Hour)

	const workers = 16
	ids := make(chan uuid.UUID, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			sess, _, err := s.sessions.ResumeOrCreate(s.ctx, s.newSession("T-race", d, at.Add(time.Duration(i)*time.Second)))
			if err != nil {
				errs <- err
				return
			}
			ids <- sess.ID
		}(i)
	}

	seen := map[uuid.UUID]bool{}
	for i := 0; i < workers; i++ {
		select {
		case err := <-errs:
			t.Fatalf("join failed: %v", err)
		case id := <-ids:
			seen[id] = true
		}
	}
	require.Len(t, seen, 1)

	var active int
	err := s.pool.QueryRow(s.ctx,
		"SELECT COUNT(*) FROM trainer_sessions WHERE trainer_id = $1 AND status = 'active'", "T-race",
	).Scan(&active)
	require.NoError(t, err)
	require.Equal(t, 1, active)
}

func (s *RepositoryIntegrationTestSuite) TestComplete_ThenJoinStartsNewSession() {
	t := s.T()
	d := day(2025, 3, 10)
	start := d.Add(9 * time.Hour)

	sess, _, err := s.sessions.ResumeOrCreate(s.ctx, s.newSession("T2", d, start))
	require.NoError(t, err)

	ended, err := s.sessions.Complete(s.ctx, sess.ID, start.Add(90*time.Minute))
	require.NoError(t, err)
	require.Equal(t, models.SessionCompleted, ended.Status)
	require.NotNil(t, ended.DurationMs)
	require.Equal(t, int64(90*time.Minute/time.Millisecond), *ended.DurationMs)

	_, err = s.sessions.Complete(s.ctx, sess.ID, start.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.sessions.Touch(s.ctx, sess.ID, start.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrNotFound)

	next, resumed, err := s.sessions.ResumeOrCreate(s.ctx, s.newSession("T2", d, start.Add(3*time.Hour)))
	require.NoError(t, err)
	require.False(t, resumed)
	require.NotEqual(t, sess.ID, next.ID)
}

func (s *RepositoryIntegrationTestSuite) TestTouch_IsMonotonic() {
	t := s.T()
	d := day(2025, 3, 10)
	start := d.Add(9 * time.Hour)

	sess, _, err := s.sessions.ResumeOrCreate(s.ctx, s.newSession("T3", d, start))
	require.NoError(t, err)

	touched, err := s.sessions.Touch(s.ctx, sess.ID, start.Add(10*time.Minute))
	require.NoError(t, err)
	require.True(t, touched.LastActiveAt.Equal(start.Add(10*time.Minute)))

	touched, err = s.sessions.Touch(s.ctx, sess.ID, start.Add(5*time.Minute))
	require.NoError(t, err)
	require.True(t, touched.LastActiveAt.Equal(start.Add(10*time.Minute)))

	_, err = s.sessions.Touch(s.ctx, uuid.New(), start)
	require.ErrorIs(t, err, ErrNotFound)
}

func (s *RepositoryIntegrationTestSuite) TestAutoClose_UsesLastActivity() {
	t := s.T()
	d := day(2025, 3, 10)
	start := d.Add(9 * time.Hour)

	sess, _, err := s.sessions.ResumeOrCreate(s.ctx, s.newSession("T4", d, start))
	require.NoError(t, err)
	_, err = s.sessions.Touch(s.ctx, sess.ID, start.Add(10*time.Minute))
	require.NoError(t, err)

	closed, err := s.sessions.AutoClose(s.ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionAutoClosed, closed.Status)
	require.NotNil(t, closed.EndTime)
	require.True(t, closed.EndTime.Equal(start.Add(10*time.Minute)))
	require.Equal(t, int64(600000), *closed.DurationMs)

	_, err = s.sessions.AutoClose(s.ctx, sess.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func (s *RepositoryIntegrationTestSuite) TestListStale_OnlyPriorDayActive() {
	t := s.T()
	yesterday := day(2025, 3, 9)
	today := day(2025, 3, 10)

	old, _, err := s.sessions.ResumeOrCreate(s.ctx, s.newSession("T5", yesterday, yesterday.Add(9*time.Hour)))
	require.NoError(t, err)
	_, _, err = s.sessions.ResumeOrCreate(s.ctx, s.newSession("T5", today, today.Add(9*time.Hour)))
	require.NoError(t, err)

	done, _, err := s.sessions.ResumeOrCreate(s.ctx, s.newSession("T6", yesterday, yesterday.Add(9*time.Hour)))
	require.NoError(t, err)
	_, err = s.sessions.Complete(s.ctx, done.ID, yesterday.Add(10*time.Hour))
	require.NoError(t, err)

	stale, err := s.sessions.ListStale(s.ctx, today)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, old.ID, stale[0].ID)
}

func (s *RepositoryIntegrationTestSuite) TestList_FiltersByTrainerAndDate() {
	t := s.T()
	for i, trainer := range []string{"T7", "T7", "T7", "T8"} {
		d := day(2025, 3, 1+i)
		_, _, err := s.sessions.ResumeOrCreate(s.ctx, s.newSession(trainer, d, d.Add(9*time.Hour)))
		require.NoError(t, err)
	}

	all, err := s.sessions.List(s.ctx, models.SessionFilter{TrainerID: "T7"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.True(t, all[0].StartTime.After(all[1].StartTime), "newest first")

	from, to := day(2025, 3, 2), day(2025, 3, 3)
	window, err := s.sessions.List(s.ctx, models.SessionFilter{TrainerID: "T7", StartDate: &from, EndDate: &to})
	require.NoError(t, err)
	require.Len(t, window, 2)
}

func (s *RepositoryIntegrationTestSuite) TestMessages_ListByBatchNewestFirst() {
	t := s.T()
	for i := 1; i <= 5; i++ {
		m := &models.Message{
			BatchID:     "B1",
			SenderID:    "S1",
			SenderModel: models.SenderStudent,
			SenderName:  "Asha",
			Content:     fmt.Sprintf("m%d", i),
			Type:        models.MessageText,
		}
		require.NoError(t, s.messages.Create(s.ctx, m))
		require.NotEqual(t, uuid.Nil, m.ID)
	}
	require.NoError(t, s.messages.Create(s.ctx, &models.Message{
		BatchID: "B2", SenderID: "S1", SenderModel: models.SenderStudent, SenderName: "Asha",
		Content: "elsewhere", Type: models.MessageText,
	}))

	page, total, err := s.messages.ListByBatch(s.ctx, "B1", 2, 0)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, page, 2)
	require.Equal(t, "m5", page[0].Content)
	require.Equal(t, "m4", page[1].Content)

	page, _, err = s.messages.ListByBatch(s.ctx, "B1", 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "m1", page[0].Content)

	empty, total, err := s.messages.ListByBatch(s.ctx, "nope", 10, 0)
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, empty)
}

func TestRepositoryIntegration(t *testing.T) {
	if os.Getenv("DOCKER_HOST") == "" {
		t.Skip("Docker is not available, skipping integration test.")
	}
	suite.Run(t, new(RepositoryIntegrationTestSuite))
}
