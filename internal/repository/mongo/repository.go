package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"torrentstream/streamfs/internal/domain"
)

// Repository is the MongoDB catalog.
type Repository struct {
	collection *mongo.Collection
	now        func() time.Time
}

type fileDoc struct {
	Name   string `bson:"name"`
	Path   string `bson:"path"`
	Length int64  `bson:"length"`
}

type torrentDoc struct {
	ID        string    `bson:"_id"`
	FeedGuid  string    `bson:"feedGuid"`
	FeedURL   string    `bson:"feedURL"`
	InfoHash  string    `bson:"infoHash,omitempty"`
	Name      string    `bson:"name,omitempty"`
	MagnetURI string    `bson:"magnetURI,omitempty"`
	Files     []fileDoc `bson:"files,omitempty"`
	Status    string    `bson:"status"`
	Errors    string    `bson:"errors,omitempty"`
	IsVisible bool      `bson:"isVisible"`
	// Timestamps are unix nanoseconds so createdAt gives a stable insertion order.
	CreatedAt int64 `bson:"createdAt"`
	UpdatedAt int64 `bson:"updatedAt"`
}

func NewRepository(client *mongo.Client, dbName, collectionName string) *Repository {
	return &Repository{
		collection: client.Database(dbName).Collection(collectionName),
		now:        time.Now,
	}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Repository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "feedGuid", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "infoHash", Value: 1}}},
		{Keys: bson.D{{Key: "magnetURI", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "isVisible", Value: 1}, {Key: "createdAt", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *Repository) Create(ctx context.Context, t domain.TorrentRecord) error {
	now := r.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := r.collection.InsertOne(ctx, toDoc(t))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists
		}
	}
	return err
}

const updateAttempts = 3

// Update is an optimistic read-modify-write: the write only lands while the
// stored record still has the updatedAt and status it was merged from, and
// is retried from a fresh read otherwise.
func (r *Repository) Update(ctx context.Context, id string, u domain.RecordUpdate) (domain.TorrentRecord, error) {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		current, err := r.Get(ctx, id)
		if err != nil {
			return domain.TorrentRecord{}, err
		}
		if u.From != nil && current.Status != *u.From {
			return domain.TorrentRecord{}, fmt.Errorf("%w: record %s is %s, not %s", domain.ErrInvalidTransition, id, current.Status, *u.From)
		}
		next := u.Apply(current)
		next.UpdatedAt = r.now().UTC()
		if err := next.Validate(); err != nil {
			return domain.TorrentRecord{}, err
		}

		res, err := r.collection.UpdateOne(ctx, updateFilter(current), bson.M{"$set": setDoc(u, next.UpdatedAt)})
		if err != nil {
			return domain.TorrentRecord{}, err
		}
		if res.MatchedCount == 1 {
			return next, nil
		}
	}
	return domain.TorrentRecord{}, fmt.Errorf("update %s: concurrent modification: %w", id, domain.ErrBusy)
}

func updateFilter(current domain.TorrentRecord) bson.M {
	return bson.M{
		"_id":       current.ID,
		"status":    string(current.Status),
		"updatedAt": current.UpdatedAt.UnixNano(),
	}
}

func (r *Repository) Get(ctx context.Context, id string) (domain.TorrentRecord, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *Repository) FindByInfoHash(ctx context.Context, infoHash domain.InfoHash) (domain.TorrentRecord, error) {
	return r.findOne(ctx, bson.M{"infoHash": string(infoHash)})
}

func (r *Repository) FindByFeedGuid(ctx context.Context, guid string) (domain.TorrentRecord, error) {
	return r.findOne(ctx, bson.M{"feedGuid": guid})
}

func (r *Repository) FindByMagnetURI(ctx context.Context, uri string) (domain.TorrentRecord, error) {
	return r.findOne(ctx, bson.M{"magnetURI": uri})
}

func (r *Repository) ListVisible(ctx context.Context) ([]domain.VisibleTorrent, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"infoHash": 1, "name": 1})
	cursor, err := r.collection.Find(ctx, bson.M{"isVisible": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []torrentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.VisibleTorrent, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.VisibleTorrent{InfoHash: domain.InfoHash(doc.InfoHash), Name: doc.Name})
	}
	return out, nil
}

func (r *Repository) ListByStatus(ctx context.Context, statuses ...domain.TorrentStatus) ([]domain.TorrentRecord, error) {
	query := bson.M{}
	if len(statuses) > 0 {
		values := make([]string, 0, len(statuses))
		for _, s := range statuses {
			values = append(values, string(s))
		}
		query["status"] = bson.M{"$in": values}
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []torrentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return fromDocs(docs), nil
}

func (r *Repository) CountByStatus(ctx context.Context, status domain.TorrentStatus) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"status": string(status)})
}

func (r *Repository) PopOldestNew(ctx context.Context) (domain.TorrentRecord, error) {
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetReturnDocument(options.After)
	update := bson.M{"$set": bson.M{
		"status":    string(domain.StatusQueued),
		"updatedAt": r.now().UTC().UnixNano(),
	}}

	var doc torrentDoc
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"status": string(domain.StatusNew)}, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.TorrentRecord{}, domain.ErrNotFound
		}
		return domain.TorrentRecord{}, err
	}
	return fromDoc(doc), nil
}

func (r *Repository) SetVisible(ctx context.Context, infoHash domain.InfoHash, visible bool) error {
	// Only READY records may become visible.
	filter := bson.M{"infoHash": string(infoHash), "status": string(domain.StatusReady)}
	res, err := r.collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{
		"isVisible": visible,
		"updatedAt": r.now().UTC().UnixNano(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("set visibility of %s: %w", infoHash, domain.ErrNotFound)
	}
	return nil
}

func (r *Repository) findOne(ctx context.Context, filter bson.M) (domain.TorrentRecord, error) {
	var doc torrentDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if err := r.collection.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.TorrentRecord{}, domain.ErrNotFound
		}
		return domain.TorrentRecord{}, err
	}
	return fromDoc(doc), nil
}

func setDoc(u domain.RecordUpdate, updatedAt time.Time) bson.M {
	set := bson.M{"updatedAt": updatedAt.UnixNano()}
	if u.InfoHash != nil {
		set["infoHash"] = string(*u.InfoHash)
	}
	if u.Name != nil {
		set["name"] = *u.Name
	}
	if u.MagnetURI != nil {
		set["magnetURI"] = *u.MagnetURI
	}
	if u.Files != nil {
		set["files"] = toFileDocs(*u.Files)
	}
	if u.Status != nil {
		set["status"] = string(*u.Status)
	}
	if u.Errors != nil {
		set["errors"] = *u.Errors
	}
	if u.IsVisible != nil {
		set["isVisible"] = *u.IsVisible
	}
	return set
}

func toFileDocs(files []domain.FileRef) []fileDoc {
	out := make([]fileDoc, 0, len(files))
	for _, f := range files {
		out = append(out, fileDoc{Name: f.Name, Path: f.Path, Length: f.Length})
	}
	return out
}

func toDoc(t domain.TorrentRecord) torrentDoc {
	return torrentDoc{
		ID:        t.ID,
		FeedGuid:  t.FeedGuid,
		FeedURL:   t.FeedURL,
		InfoHash:  string(t.InfoHash),
		Name:      t.Name,
		MagnetURI: t.MagnetURI,
		Files:     toFileDocs(t.Files),
		Status:    string(t.Status),
		Errors:    t.Errors,
		IsVisible: t.IsVisible,
		CreatedAt: t.CreatedAt.UnixNano(),
		UpdatedAt: t.UpdatedAt.UnixNano(),
	}
}

func fromDoc(doc torrentDoc) domain.TorrentRecord {
	var files []domain.FileRef
	if len(doc.Files) > 0 {
		files = make([]domain.FileRef, 0, len(doc.Files))
		for _, f := range doc.Files {
			files = append(files, domain.FileRef{Name: f.Name, Path: f.Path, Length: f.Length})
		}
	}

	return domain.TorrentRecord{
		ID:        doc.ID,
		FeedGuid:  doc.FeedGuid,
		FeedURL:   doc.FeedURL,
		InfoHash:  domain.InfoHash(doc.InfoHash),
		Name:      doc.Name,
		MagnetURI: doc.MagnetURI,
		Files:     files,
		Status:    domain.TorrentStatus(doc.Status),
		Errors:    doc.Errors,
		IsVisible: doc.IsVisible,
		CreatedAt: timeFromUnixNano(doc.CreatedAt),
		UpdatedAt: timeFromUnixNano(doc.UpdatedAt),
	}
}

func fromDocs(docs []torrentDoc) []domain.TorrentRecord {
	records := make([]domain.TorrentRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, fromDoc(doc))
	}
	return records
}

func timeFromUnixNano(value int64) time.Time {
	return time.Unix(0, value).UTC()
}
