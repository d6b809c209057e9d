package jellyfin_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"jelly/internal/database"
	"jelly/models"
	"jelly/services/jellyfin"
	"jelly/services/jellyfin/jellyfinmock"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenAndMigrate(context.Background(), filepath.Join(t.TempDir(), "jelly.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newConfiguredService(t *testing.T) (*jellyfin.Service, *jellyfinmock.MockAPI) {
	t.Helper()
	ctrl := gomock.NewController(t)
	api := jellyfinmock.NewMockAPI(ctrl)

	svc := jellyfin.NewService(newTestDB(t), nil)
	svc.SetClientFactory(func(serverURL, apiKey string) jellyfin.API { return api })
	_, err := svc.UpdateSettings(context.Background(), models.JellyfinSettings{ServerURL: "http://jf.local:8096/", APIKey: "k", Enabled: true})
	require.NoError(t, err)
	return svc, api
}

type fakeProfiles struct {
	profiles []models.Profile
}

func (f *fakeProfiles) List(ctx context.Context) ([]models.Profile, error) {
	return append([]models.Profile(nil), f.profiles...), nil
}

func (f *fakeProfiles) FindByJellyfinID(ctx context.Context, jellyfinID string) (*models.Profile, error) {
	for _, p := range f.profiles {
		if p.JellyfinUserID == jellyfinID {
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeProfiles) CreateFromJellyfin(ctx context.Context, jellyfinID, name string, admin bool) (models.Profile, error) {
	p := models.Profile{ID: "p-" + jellyfinID, DisplayName: name, JellyfinUserID: jellyfinID, Role: models.RoleUser}
	if admin {
		p.Role = models.RoleAdmin
	}
	f.profiles = append(f.profiles, p)
	return p, nil
}

func (f *fakeProfiles) LinkJellyfin(ctx context.Context, profileID, jellyfinID string) (models.Profile, error) {
	for i := range f.profiles {
		if f.profiles[i].ID == profileID {
			f.profiles[i].JellyfinUserID = jellyfinID
			return f.profiles[i], nil
		}
	}
	return models.Profile{}, errors.New("not found")
}

func TestSettingsAreMaskedAndKeyIsKept(t *testing.T) {
	svc := jellyfin.NewService(newTestDB(t), nil)
	ctx := context.Background()

	_, err := svc.Client(ctx)
	assert.ErrorIs(t, err, jellyfin.ErrNotConfigured)

	saved, err := svc.UpdateSettings(ctx, models.JellyfinSettings{ServerURL: "https://jf.example.com/", APIKey: "abc", Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, "https://jf.example.com", saved.ServerURL)
	assert.Equal(t, "********", saved.Masked().APIKey)

	// Re-submitting the masked value keeps the real key.
	_, err = svc.UpdateSettings(ctx, models.JellyfinSettings{ServerURL: "https://jf.example.com", APIKey: "********", Enabled: true})
	require.NoError(t, err)
	stored, err := svc.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", stored.APIKey)

	_, err = svc.UpdateSettings(ctx, models.JellyfinSettings{ServerURL: "ftp://nope"})
	assert.ErrorIs(t, err, jellyfin.ErrInvalidURL)
}

func TestLibrariesAreCategorized(t *testing.T) {
	svc, api := newConfiguredService(t)
	api.EXPECT().VirtualFolders(gomock.Any()).Return([]jellyfin.VirtualFolder{
		{Name: "Animés Kaï", CollectionType: "tvshows", ItemID: "1"},
		{Name: "Films", CollectionType: "movies", ItemID: "2"},
		{Name: "Divers", CollectionType: "tvshows", ItemID: "3"},
		{Name: "Musique", CollectionType: "music", ItemID: "4"},
	}, nil)

	libs, err := svc.Libraries(context.Background())
	require.NoError(t, err)
	require.Len(t, libs, 4)
	assert.Equal(t, models.CategoryKai, libs[0].Category)
	assert.Equal(t, models.CategoryFilms, libs[1].Category)
	assert.Equal(t, models.CategorySeries, libs[2].Category)
	assert.Equal(t, "", libs[3].Category)
}

func TestEpisodeExists(t *testing.T) {
	svc, api := newConfiguredService(t)
	one, two, season := 1, 2, 3
	api.EXPECT().Episodes(gomock.Any(), "series-1", 3).Return([]jellyfin.Item{
		{ID: "e1", IndexNumber: &one, ParentIndexNumber: &season},
		{ID: "e2", IndexNumber: &two, ParentIndexNumber: &season},
	}, nil).Times(2)
	api.EXPECT().Episodes(gomock.Any(), "missing", 1).Return(nil, jellyfin.ErrNotFound)

	ctx := context.Background()
	ok, err := svc.EpisodeExists(ctx, "series-1", 3, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.EpisodeExists(ctx, "series-1", 3, 9)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.EpisodeExists(ctx, "missing", 1, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.EpisodeExists(ctx, " ", 1, 1)
	assert.ErrorIs(t, err, jellyfin.ErrItemIDRequired)
}

func TestStreamInfoUsesStoredSettings(t *testing.T) {
	svc, _ := newConfiguredService(t)
	info, err := svc.StreamInfo(context.Background(), "item42", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.DirectURL, "http://jf.local:8096/Videos/item42/stream?"))
	assert.Contains(t, info.HLSURL, "master.m3u8")
}

func TestImportUsersCreatesAndLinks(t *testing.T) {
	svc, api := newConfiguredService(t)
	disabled := jellyfin.User{ID: "j3", Name: "Ghost"}
	disabled.Policy.IsDisabled = true
	admin := jellyfin.User{ID: "j1", Name: "Root"}
	admin.Policy.IsAdministrator = true
	api.EXPECT().Users(gomock.Any()).Return([]jellyfin.User{admin, {ID: "j2", Name: "Alice"}, disabled}, nil)

	store := &fakeProfiles{profiles: []models.Profile{{ID: "local-alice", DisplayName: "alice"}}}
	result, err := svc.ImportUsers(context.Background(), store)
	require.NoError(t, err)

	require.Len(t, result.Imported, 1)
	assert.Equal(t, "Root", result.Imported[0].DisplayName)
	assert.Equal(t, models.RoleAdmin, result.Imported[0].Role)
	require.Len(t, result.Linked, 1)
	assert.Equal(t, "j2", result.Linked[0].JellyfinUserID)
	assert.Equal(t, []string{"Ghost"}, result.Skipped)
}

func TestExportUsersGeneratesPasswords(t *testing.T) {
	svc, api := newConfiguredService(t)
	api.EXPECT().Users(gomock.Any()).Return([]jellyfin.User{{ID: "j-bob", Name: "Bob"}}, nil)
	api.EXPECT().CreateUser(gomock.Any(), "Carol", gomock.Any()).DoAndReturn(
		func(ctx context.Context, name, pw string) (jellyfin.User, error) {
			if len(pw) != 16 {
				t.Errorf("expected a 16 character password, got %d", len(pw))
			}
			return jellyfin.User{ID: "j-carol", Name: name}, nil
		})

	store := &fakeProfiles{profiles: []models.Profile{
		{ID: "bob", DisplayName: "bob"},
		{ID: "carol", DisplayName: "Carol"},
		{ID: "dave", DisplayName: "Dave", JellyfinUserID: "j-dave"},
	}}
	results, err := svc.ExportUsers(context.Background(), store)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "j-bob", results[0].JellyfinUserID)
	assert.False(t, results[0].Created)
	assert.Empty(t, results[0].Password)

	assert.Equal(t, "j-carol", results[1].JellyfinUserID)
	assert.True(t, results[1].Created)
	assert.Len(t, results[1].Password, 16)
}
