// Package mongostore keeps users and the visit statistics in MongoDB, using
// the collection layout of the LMS that owns the accounts.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"studyhub/internal/presence"
	"studyhub/internal/stats"
)

const (
	CollectionNameUsers        = "users"
	CollectionNameStatisticals = "statisticals"
)

type userDoc struct {
	ID       primitive.ObjectID `bson:"_id"`
	Name     string             `bson:"name"`
	Email    string             `bson:"email,omitempty"`
	UserCode string             `bson:"userCode,omitempty"`
	Role     string             `bson:"role,omitempty"`
	Avatar   string             `bson:"avatar,omitempty"`
}

type todayDoc struct {
	Total int64     `bson:"total"`
	Date  time.Time `bson:"date"`
}

type statisticalDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Total     int64              `bson:"total"`
	Today     todayDoc           `bson:"today"`
	Week      int64              `bson:"week"`
	Month     int64              `bson:"month"`
	CreatedAt time.Time          `bson:"createdAt,omitempty"`
	UpdatedAt time.Time          `bson:"updatedAt,omitempty"`
}

// Store implements presence.UserLookup and stats.Store on a Mongo database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri and pings the server before returning.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return New(client, database), nil
}

func New(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) users() *mongo.Collection {
	return s.db.Collection(CollectionNameUsers)
}

func (s *Store) statisticals() *mongo.Collection {
	return s.db.Collection(CollectionNameStatisticals)
}

// CreateUser inserts user, whose id must be an ObjectID hex string. An empty
// id gets a fresh ObjectID; the stored id is returned.
func (s *Store) CreateUser(ctx context.Context, user presence.User) (string, error) {
	oid := primitive.NewObjectID()
	if user.ID != "" {
		var err error
		if oid, err = primitive.ObjectIDFromHex(user.ID); err != nil {
			return "", err
		}
	}
	_, err := s.users().InsertOne(ctx, userDoc{
		ID:       oid,
		Name:     user.Name,
		Email:    user.Email,
		UserCode: user.UserCode,
		Role:     user.Role,
		Avatar:   user.Avatar,
	})
	if err != nil {
		return "", err
	}
	return oid.Hex(), nil
}

// GetUserByID returns nil, nil for ids that are not ObjectIDs or match nothing.
func (s *Store) GetUserByID(ctx context.Context, id string) (*presence.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	var doc userDoc
	if err := s.users().FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &presence.User{
		ID:       doc.ID.Hex(),
		Name:     doc.Name,
		Email:    doc.Email,
		UserCode: doc.UserCode,
		Role:     doc.Role,
		Avatar:   doc.Avatar,
	}, nil
}

// ReadStatistics returns the oldest statistics document, or nil if there is none.
func (s *Store) ReadStatistics(ctx context.Context) (*stats.Record, error) {
	var doc statisticalDoc
	err := s.statisticals().FindOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	rec := fromDoc(doc)
	return &rec, nil
}

func (s *Store) CreateStatistics(ctx context.Context, rec stats.Record) (stats.Record, error) {
	now := time.Now()
	doc := toDoc(rec)
	doc.ID = primitive.NewObjectID()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if _, err := s.statisticals().InsertOne(ctx, doc); err != nil {
		return stats.Record{}, err
	}
	return fromDoc(doc), nil
}

// UpdateStatistics overwrites the counters of the document rec.ID names.
func (s *Store) UpdateStatistics(ctx context.Context, rec stats.Record) (stats.Record, error) {
	oid, err := primitive.ObjectIDFromHex(rec.ID)
	if err != nil {
		return stats.Record{}, stats.ErrNotFound
	}
	doc := toDoc(rec)
	var updated statisticalDoc
	err = s.statisticals().FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{
		"$set": bson.M{
			"total":     doc.Total,
			"today":     doc.Today,
			"week":      doc.Week,
			"month":     doc.Month,
			"updatedAt": time.Now(),
		},
	}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return stats.Record{}, stats.ErrNotFound
		}
		return stats.Record{}, err
	}
	return fromDoc(updated), nil
}

func toDoc(rec stats.Record) statisticalDoc {
	return statisticalDoc{
		Total: rec.Total,
		Today: todayDoc{Total: rec.Today.Total, Date: rec.Today.Date},
		Week:  rec.Week,
		Month: rec.Month,
	}
}

func fromDoc(doc statisticalDoc) stats.Record {
	return stats.Record{
		ID:    doc.ID.Hex(),
		Total: doc.Total,
		Today: stats.Today{Total: doc.Today.Total, Date: doc.Today.Date},
		Week:  doc.Week,
		Month: doc.Month,
	}
}
