package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_plant_care_bot/internal/domain"
	"tg_plant_care_bot/internal/logging"
)

// ErrPlantNotFound is returned when an index or nickname does not resolve to
// a stored plant. Menu callbacks carry indices captured at render time, so a
// stale index is an expected condition, not a bug.
var ErrPlantNotFound = errors.New("plant not found")

type plantCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// chatDocument is the persisted shape: one document per chat, plants kept as
// an ordered array. Insertion order is the addressing mechanism used by menu
// callbacks.
type chatDocument struct {
	ChatID    int64          `bson:"chat_id"`
	Items     []domain.Plant `bson:"items"`
	Location  string         `bson:"location,omitempty"`
	UpdatedAt time.Time      `bson:"updated_at,omitempty"`
}

// ChatPlants pairs a chat id with its plant list for sweep iteration.
type ChatPlants struct {
	ChatID int64
	Plants []domain.Plant
}

// PlantRepository reads and writes each chat's plant list.
//
// All list mutations are read-modify-write over the whole items array with
// last-write-wins semantics. Two interleaved mutations for the same chat can
// lose one of the updates. That matches the single-user-driven usage this bot
// sees and is a known, accepted hazard.
type PlantRepository struct {
	plants plantCollection
	logger *logrus.Entry
}

// NewPlantRepository constructs a PlantRepository for the provided plants
// collection.
func NewPlantRepository(plants plantCollection, logger *logrus.Entry) *PlantRepository {
	if logger == nil {
		logger = logging.Logger()
	}

	return &PlantRepository{
		plants: plants,
		logger: logger,
	}
}

// Get returns the chat's plant list in insertion order, empty when the chat
// has no document yet.
func (r *PlantRepository) Get(ctx context.Context, chatID int64) ([]domain.Plant, error) {
	if err := r.ready(ctx, chatID); err != nil {
		return nil, err
	}

	result := r.plants.FindOne(ctx, bson.M{"chat_id": chatID})
	if result == nil {
		return nil, errors.New("find chat document returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return []domain.Plant{}, nil
		}
		return nil, fmt.Errorf("find chat document: %w", err)
	}

	var doc chatDocument
	if err := result.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode chat document: %w", err)
	}
	if doc.Items == nil {
		return []domain.Plant{}, nil
	}

	return doc.Items, nil
}

// Set overwrites the chat's plant list. The write replaces the whole items
// array; there is no merge with concurrent writers.
func (r *PlantRepository) Set(ctx context.Context, chatID int64, plants []domain.Plant) error {
	if err := r.ready(ctx, chatID); err != nil {
		return err
	}
	if plants == nil {
		plants = []domain.Plant{}
	}

	update := bson.M{
		"$set": bson.M{
			"items":      plants,
			"updated_at": time.Now().UTC().Truncate(time.Millisecond),
		},
		"$setOnInsert": bson.M{
			"chat_id": chatID,
		},
	}

	if _, err := r.plants.UpdateOne(ctx,
		bson.M{"chat_id": chatID},
		update,
		options.Update().SetUpsert(true),
	); err != nil {
		return fmt.Errorf("set plants: %w", err)
	}

	return nil
}

// Append validates the record and adds it to the end of the chat's list,
// returning the stored list. Duplicate nicknames are tolerated: nothing here
// checks for an existing match, and nickname lookups take the first match in
// insertion order.
func (r *PlantRepository) Append(ctx context.Context, chatID int64, plant domain.Plant) ([]domain.Plant, error) {
	if err := plant.Validate(); err != nil {
		return nil, fmt.Errorf("append plant: %w", err)
	}

	plants, err := r.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}

	plants = append(plants, plant)
	if err := r.Set(ctx, chatID, plants); err != nil {
		return nil, err
	}

	r.logger.WithFields(logging.Fields{
		"event":    "plant_added",
		"chat_id":  chatID,
		"nickname": plant.Nickname,
		"total":    len(plants),
	}).Info("added plant")

	return plants, nil
}

// UpdateAt applies the mutator to the plant at the given index and persists
// the list, returning the updated record. An out-of-range index yields
// ErrPlantNotFound.
func (r *PlantRepository) UpdateAt(ctx context.Context, chatID int64, index int, mutate func(*domain.Plant)) (domain.Plant, error) {
	plants, err := r.Get(ctx, chatID)
	if err != nil {
		return domain.Plant{}, err
	}
	if index < 0 || index >= len(plants) {
		return domain.Plant{}, ErrPlantNotFound
	}

	mutate(&plants[index])
	if err := r.Set(ctx, chatID, plants); err != nil {
		return domain.Plant{}, err
	}

	return plants[index], nil
}

// RemoveAt deletes the plant at the given index, preserving the relative
// order of the remaining plants, and returns the removed record.
func (r *PlantRepository) RemoveAt(ctx context.Context, chatID int64, index int) (domain.Plant, error) {
	plants, err := r.Get(ctx, chatID)
	if err != nil {
		return domain.Plant{}, err
	}
	if index < 0 || index >= len(plants) {
		return domain.Plant{}, ErrPlantNotFound
	}

	removed := plants[index]
	plants = append(plants[:index], plants[index+1:]...)
	if err := r.Set(ctx, chatID, plants); err != nil {
		return domain.Plant{}, err
	}

	r.logger.WithFields(logging.Fields{
		"event":    "plant_removed",
		"chat_id":  chatID,
		"nickname": removed.Nickname,
		"total":    len(plants),
	}).Info("removed plant")

	return removed, nil
}

// All returns every chat's plant list for the reminder sweep. Documents that
// fail to decode are logged and skipped so one corrupt record cannot block
// the rest of the sweep.
func (r *PlantRepository) All(ctx context.Context) ([]ChatPlants, error) {
	if r == nil || r.plants == nil {
		return nil, errors.New("plant repository is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	cursor, err := r.plants.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find chat documents: %w", err)
	}
	defer cursor.Close(ctx)

	var chats []ChatPlants
	for cursor.Next(ctx) {
		var doc chatDocument
		if err := cursor.Decode(&doc); err != nil {
			r.logger.WithField("event", "chat_decode_skip").WithError(err).Warn("skipping undecodable chat document")
			continue
		}
		chats = append(chats, ChatPlants{ChatID: doc.ChatID, Plants: doc.Items})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat documents: %w", err)
	}

	return chats, nil
}

// ClearReminderFlags resets reminder_sent on every stored plant; runs once a
// day at midnight.
func (r *PlantRepository) ClearReminderFlags(ctx context.Context) error {
	if r == nil || r.plants == nil {
		return errors.New("plant repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	// Only documents with a non-empty items array; $[] rejects missing paths.
	filter := bson.M{"items.0": bson.M{"$exists": true}}
	update := bson.M{"$set": bson.M{"items.$[].reminder_sent": false}}

	if _, err := r.plants.UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("clear reminder flags: %w", err)
	}

	return nil
}

// CountChats returns how many chats have a plant document; shown on the
// about screen.
func (r *PlantRepository) CountChats(ctx context.Context) (int64, error) {
	if r == nil || r.plants == nil {
		return 0, errors.New("plant repository is not initialized")
	}
	if ctx == nil {
		return 0, errors.New("context is required")
	}

	count, err := r.plants.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count chats: %w", err)
	}

	return count, nil
}

func (r *PlantRepository) ready(ctx context.Context, chatID int64) error {
	if r == nil || r.plants == nil {
		return errors.New("plant repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if chatID == 0 {
		return errors.New("chat id is required")
	}
	return nil
}
