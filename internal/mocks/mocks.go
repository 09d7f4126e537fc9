package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"ember-chat/internal/models"
	"ember-chat/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) CreateRoom(ctx context.Context, name string, ownerAccountID string) (models.Room, error) {
	args := m.Called(ctx, name, ownerAccountID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, name string) (models.Room, error) {
	args := m.Called(ctx, name)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) ListRooms(ctx context.Context) ([]models.Room, error) {
	args := m.Called(ctx)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

func (m *RoomRepositoryMock) SetSlowMode(ctx context.Context, name string, seconds int) error {
	args := m.Called(ctx, name, seconds)
	return args.Error(0)
}

func (m *RoomRepositoryMock) InsertBan(ctx context.Context, room string, identityKey string, bannedBy string) error {
	args := m.Called(ctx, room, identityKey, bannedBy)
	return args.Error(0)
}

func (m *RoomRepositoryMock) RemoveBan(ctx context.Context, room string, identityKey string) error {
	args := m.Called(ctx, room, identityKey)
	return args.Error(0)
}

func (m *RoomRepositoryMock) ListBans(ctx context.Context, room string) ([]models.RoomBan, error) {
	args := m.Called(ctx, room)
	var bans []models.RoomBan
	if val := args.Get(0); val != nil {
		bans = val.([]models.RoomBan)
	}
	return bans, args.Error(1)
}

type EntitlementRepositoryMock struct {
	mock.Mock
}

func (m *EntitlementRepositoryMock) GuardianUntil(ctx context.Context, accountID string) (time.Time, error) {
	args := m.Called(ctx, accountID)
	var until time.Time
	if val := args.Get(0); val != nil {
		until = val.(time.Time)
	}
	return until, args.Error(1)
}

var _ repositories.RoomRepository = (*RoomRepositoryMock)(nil)
var _ repositories.EntitlementRepository = (*EntitlementRepositoryMock)(nil)
