package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/rentwatch/internal/model"
)

// 各実装がインターフェースを満たすことを検証
var (
	_ PropertyRepository     = (*PostgresPropertyRepo)(nil)
	_ ProfileRepository      = (*PostgresProfileRepo)(nil)
	_ MatchRepository        = (*PostgresMatchRepo)(nil)
	_ NotificationRepository = (*PostgresNotificationRepo)(nil)
	_ UserRepository         = (*PostgresUserRepo)(nil)
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var propertyColumns = []string{
	"id", "source", "external_id", "source_url", "title", "description", "city", "neighborhood",
	"price", "bedrooms", "square_meters", "photos", "landlord_type", "property_type",
	"furnished", "pets_allowed", "is_active", "scraped_at", "last_checked_at", "created_at", "updated_at",
}

func TestPostgresPropertyRepo_FindByKey_Found(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresPropertyRepo(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM properties WHERE source = $1 AND external_id = $2")).
		WithArgs("pararius", "abc-1").
		WillReturnRows(sqlmock.NewRows(propertyColumns).AddRow(
			"prop-1", "pararius", "abc-1", "https://www.pararius.com/a", "Appartement Jordaan", "Licht", "amsterdam", "Jordaan",
			1500, 2, 65, "{https://img/1.jpg,https://img/2.jpg}", "agency", "apartment",
			nil, true, true, now, now, now, now,
		))

	p, err := repo.FindByKey(context.Background(), "pararius", "abc-1")
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Equal(t, "prop-1", p.ID)
	assert.Equal(t, 1500, p.Price)
	assert.Equal(t, []string{"https://img/1.jpg", "https://img/2.jpg"}, p.Photos)
	assert.Equal(t, model.PropertyTypeApartment, p.PropertyType)
	assert.Nil(t, p.Furnished, "NULLのfurnishedはnilであるべき")
	require.NotNil(t, p.PetsAllowed)
	assert.True(t, *p.PetsAllowed)
}

func TestPostgresPropertyRepo_FindByKey_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresPropertyRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM properties WHERE source = $1")).
		WillReturnRows(sqlmock.NewRows(propertyColumns))

	p, err := repo.FindByKey(context.Background(), "pararius", "missing")
	require.NoError(t, err)
	assert.Nil(t, p, "見つからない場合はnilを返すべき")
}

func TestPostgresPropertyRepo_FindByKey_QueryError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresPropertyRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM properties")).WillReturnError(errors.New("connection reset"))

	_, err := repo.FindByKey(context.Background(), "pararius", "x")
	assert.Error(t, err)
}

func TestPostgresPropertyRepo_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresPropertyRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO properties")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), &model.Property{ID: "p1", Source: "funda", ExternalID: "f1", City: "utrecht"})
	assert.NoError(t, err)
}

func TestPostgresPropertyRepo_Insert_ConflictReturnsDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresPropertyRepo(db)

	// ON CONFLICT DO NOTHING で0件
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO properties")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Insert(context.Background(), &model.Property{ID: "p1", Source: "funda", ExternalID: "f1"})
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestPostgresPropertyRepo_Insert_UniqueViolation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresPropertyRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO properties")).
		WillReturnError(&pq.Error{Code: pgUniqueViolation})

	err := repo.Insert(context.Background(), &model.Property{ID: "p1"})
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestPostgresPropertyRepo_Update(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresPropertyRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE properties SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), &model.Property{ID: "p1", Price: 1400, IsActive: true})
	assert.NoError(t, err)
}

func TestPostgresProfileRepo_ListActiveNotifiable(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresProfileRepo(db)
	now := time.Now()

	cols := []string{
		"id", "user_id", "name", "cities", "budget_min", "budget_max", "bedrooms_min",
		"furnished", "pets_allowed", "keywords", "notification_channels",
		"active", "notifications_enabled", "created_at", "updated_at",
	}
	mock.ExpectQuery(regexp.QuoteMeta("WHERE active AND notifications_enabled")).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("s1", "u1", "家族向け", "{amsterdam,utrecht}", 1000, 2000, 2, true, nil, "{balcony}", "{email,sms}", true, true, now, now).
			AddRow("s2", "u2", "", "{rotterdam}", 0, 900, nil, nil, nil, "{}", "{push}", true, true, now, now))

	profiles, err := repo.ListActiveNotifiable(context.Background())
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	s1 := profiles[0]
	assert.Equal(t, []string{"amsterdam", "utrecht"}, s1.Cities)
	require.NotNil(t, s1.BedroomsMin)
	assert.Equal(t, 2, *s1.BedroomsMin)
	require.NotNil(t, s1.Furnished)
	assert.True(t, *s1.Furnished)
	assert.Nil(t, s1.PetsAllowed)
	assert.Equal(t, []model.Channel{model.ChannelEmail, model.ChannelSMS}, s1.NotificationChannels)

	assert.Nil(t, profiles[1].BedroomsMin)
}

func TestPostgresMatchRepo_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresMatchRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO property_matches")).
		WithArgs("m1", "p1", "s1", "u1", 70, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO property_matches")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	m := &model.PropertyMatch{ID: "m1", PropertyID: "p1", SearchProfileID: "s1", UserID: "u1", MatchScore: 70, MatchedAt: time.Now()}

	created, err := repo.Create(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, created)

	// 同じペアの2回目は作成されない
	created, err = repo.Create(context.Background(), m)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestPostgresNotificationRepo_CreateAndCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresNotificationRepo(db)
	since := time.Now().Add(-time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notification_records")).
		WithArgs("n1", "u1", sqlmock.AnyArg(), "sms", false, "", "provider down", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM notification_records WHERE user_id = $1 AND sent_at >= $2")).
		WithArgs("u1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))

	err := repo.Create(context.Background(), &model.NotificationRecord{
		ID: "n1", UserID: "u1", PropertyID: "p1", Channel: model.ChannelSMS,
		Delivered: false, Error: "provider down", SentAt: time.Now(),
	})
	require.NoError(t, err)

	count, err := repo.CountByUserSince(context.Background(), "u1", since)
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestPostgresUserRepo_FindContact(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "phone", "device_token", "chat_id"}).
			AddRow("u1", "jan@example.nl", "+31612345678", "", "4242"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "phone", "device_token", "chat_id"}))

	c, err := repo.FindContact(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "+31612345678", c.Phone)
	assert.Equal(t, "4242", c.ChatID)

	c, err = repo.FindContact(context.Background(), "u2")
	require.NoError(t, err)
	assert.Nil(t, c)
}
