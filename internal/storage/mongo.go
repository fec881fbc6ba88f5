package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"cabshare/internal/model"
)

// Mongo stores each entity as a document in its own collection. Ride
// passengers live inside the ride document, so seat appends are a single
// guarded findAndModify.
type Mongo struct {
	client   *mongo.Client
	users    *mongo.Collection
	rides    *mongo.Collection
	requests *mongo.Collection
	messages *mongo.Collection
}

// ConnectMongo dials uri, selects database and ensures the indexes the
// store relies on for uniqueness.
func ConnectMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(database)
	m := &Mongo{
		client:   client,
		users:    db.Collection("users"),
		rides:    db.Collection("rides"),
		requests: db.Collection("requests"),
		messages: db.Collection("messages"),
	}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{m.users, mongo.IndexModel{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetCollation(&options.Collation{Locale: "en", Strength: 2}),
		}},
		{m.requests, mongo.IndexModel{
			Keys:    bson.D{{Key: "rideId", Value: 1}, {Key: "requester", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{m.rides, mongo.IndexModel{Keys: bson.D{{Key: "passengers", Value: 1}}}},
		{m.messages, mongo.IndexModel{Keys: bson.D{{Key: "rideId", Value: 1}, {Key: "createdAt", Value: 1}}}},
	}
	for _, ix := range indexes {
		if _, err := ix.coll.Indexes().CreateOne(ctx, ix.model); err != nil {
			return fmt.Errorf("mongo index on %s: %w", ix.coll.Name(), err)
		}
	}
	return nil
}

func exactFold(s string) bson.M {
	return bson.M{"$regex": "^" + regexp.QuoteMeta(strings.TrimSpace(s)) + "$", "$options": "i"}
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

// ---- users ----

func (m *Mongo) CreateUser(ctx context.Context, u *model.User) error {
	_, err := m.users.InsertOne(ctx, u)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (m *Mongo) UserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := m.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (m *Mongo) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := m.users.FindOne(ctx, bson.M{"email": exactFold(email)}).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (m *Mongo) UsersByIDs(ctx context.Context, ids []string) (map[string]*model.User, error) {
	out := make(map[string]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := m.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var users []model.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

func (m *Mongo) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	res, err := m.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{"passwordHash": hash}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- rides ----

func (m *Mongo) findRides(ctx context.Context, filter any, opts *options.FindOptions) ([]model.Ride, error) {
	cur, err := m.rides.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := []model.Ride{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Mongo) CreateRide(ctx context.Context, r *model.Ride) error {
	_, err := m.rides.InsertOne(ctx, r)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (m *Mongo) RideByID(ctx context.Context, id string) (*model.Ride, error) {
	var r model.Ride
	if err := m.rides.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (m *Mongo) RidesByIDs(ctx context.Context, ids []string) (map[string]*model.Ride, error) {
	out := make(map[string]*model.Ride, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rides, err := m.findRides(ctx, bson.M{"_id": bson.M{"$in": ids}}, nil)
	if err != nil {
		return nil, err
	}
	for i := range rides {
		out[rides[i].ID] = &rides[i]
	}
	return out, nil
}

func (m *Mongo) RidesForUser(ctx context.Context, email, userID string) ([]model.Ride, error) {
	or := bson.A{bson.M{"email": exactFold(email)}}
	if userID != "" {
		or = append(or, bson.M{"passengers": userID})
	}
	return m.findRides(ctx, bson.M{"$or": or},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

func (m *Mongo) SearchRides(ctx context.Context, f model.RideFilter) ([]model.Ride, error) {
	filter := bson.M{}
	if f.Source != "" {
		filter["source"] = exactFold(f.Source)
	}
	if f.Destination != "" {
		filter["destination"] = exactFold(f.Destination)
	}
	if f.Date != nil {
		day := f.Date.UTC().Truncate(24 * time.Hour)
		filter["date"] = bson.M{"$gte": day, "$lt": day.Add(24 * time.Hour)}
	}
	if f.FemaleOnly != nil {
		filter["isFemaleOnly"] = *f.FemaleOnly
	}
	if f.MinSeats > 0 {
		filter["$expr"] = bson.M{"$gte": bson.A{
			bson.M{"$subtract": bson.A{"$maxCapacity", bson.M{"$size": "$passengers"}}},
			f.MinSeats,
		}}
	}
	return m.findRides(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limitOr(f.Limit))))
}

// AppendPassengers pushes userID seats times only if the result still fits,
// evaluated by the server inside one findAndModify.
func (m *Mongo) AppendPassengers(ctx context.Context, rideID, userID string, seats int) (*model.Ride, error) {
	each := make([]string, seats)
	for i := range each {
		each[i] = userID
	}
	filter := bson.M{
		"_id": rideID,
		"$expr": bson.M{"$lte": bson.A{
			bson.M{"$add": bson.A{bson.M{"$size": "$passengers"}, seats}},
			"$maxCapacity",
		}},
	}
	update := bson.M{"$push": bson.M{"passengers": bson.M{"$each": each}}}

	var r model.Ride
	err := m.rides.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := m.RideByID(ctx, rideID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrCapacity
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (m *Mongo) RemovePassenger(ctx context.Context, rideID, userID string) (*model.Ride, error) {
	var r model.Ride
	err := m.rides.FindOneAndUpdate(ctx,
		bson.M{"_id": rideID},
		bson.M{"$pull": bson.M{"passengers": userID}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&r)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// ---- requests ----

func (m *Mongo) CreateRequest(ctx context.Context, req *model.Request) error {
	_, err := m.requests.InsertOne(ctx, req)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (m *Mongo) RequestByID(ctx context.Context, id string) (*model.Request, error) {
	var r model.Request
	if err := m.requests.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (m *Mongo) RequestFor(ctx context.Context, rideID, requesterID string) (*model.Request, error) {
	var r model.Request
	if err := m.requests.FindOne(ctx, bson.M{"rideId": rideID, "requester": requesterID}).Decode(&r); err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (m *Mongo) SetRequestStatus(ctx context.Context, id string, from []model.RequestStatus, to model.RequestStatus, at *time.Time) (*model.Request, error) {
	set := bson.M{"status": to}
	if at != nil {
		set["decidedAt"] = *at
	}
	var r model.Request
	err := m.requests.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": statusStrings(from)}},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := m.RequestByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (m *Mongo) ListRequests(ctx context.Context, f model.RequestFilter) ([]model.Request, error) {
	filter := bson.M{}
	if len(f.RideIDs) > 0 {
		filter["rideId"] = bson.M{"$in": f.RideIDs}
	}
	if f.RequesterID != "" {
		filter["requester"] = f.RequesterID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	cur, err := m.requests.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	out := []model.Request{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- messages ----

func (m *Mongo) CreateMessage(ctx context.Context, msg *model.Message) error {
	_, err := m.messages.InsertOne(ctx, msg)
	return err
}

func (m *Mongo) MessagesByRide(ctx context.Context, rideID string, since time.Time, limit int) ([]model.Message, error) {
	cur, err := m.messages.Find(ctx,
		bson.M{"rideId": rideID, "createdAt": bson.M{"$gt": since}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetLimit(int64(limitOr(limit))))
	if err != nil {
		return nil, err
	}
	out := []model.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error { return m.client.Disconnect(ctx) }

var _ Store = (*Mongo)(nil)
