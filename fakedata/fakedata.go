// Package fakedata seeds a database with plausible-looking users, posts,
// comments and follows for local development and load testing.
package fakedata

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"

	"github.com/inkwell-social/inkwell/graph"
	"github.com/inkwell-social/inkwell/models"
)

// AccountCatalog splits the generated population into a handful of celebs
// (heavily followed, frequently posting) and the regular long tail, which
// gives the follow graph and the post listing a realistic skew.
type AccountCatalog struct {
	Celebs   []models.User
	Regulars []models.User
}

func (ac *AccountCatalog) Combined() []models.User {
	var combined []models.User
	combined = append(combined, ac.Celebs...)
	combined = append(combined, ac.Regulars...)
	return combined
}

type GenOpts struct {
	NumCelebs      int
	NumRegulars    int
	PostsPerCeleb  int
	PostsPerUser   int
	MaxFollows     int
	CommentsPerDay int
}

func DefaultGenOpts() GenOpts {
	return GenOpts{
		NumCelebs:      5,
		NumRegulars:    50,
		PostsPerCeleb:  20,
		PostsPerUser:   3,
		MaxFollows:     15,
		CommentsPerDay: 100,
	}
}

var categories = []string{"tech", "travel", "food", "music", "sports"}

func makeUser(celeb bool) models.User {
	bio := ""
	if celeb || gofakeit.Bool() {
		bio = gofakeit.Sentence(8)
	}
	return models.User{
		Username:       gofakeit.Username(),
		Fullname:       gofakeit.Name(),
		Email:          gofakeit.Email(),
		ProfilePicture: gofakeit.ImageURL(256, 256),
		Bio:            bio,
		IsPremium:      celeb,
	}
}

func GenAccounts(ctx context.Context, db *gorm.DB, opts GenOpts) (*AccountCatalog, error) {
	catalog := &AccountCatalog{}

	for i := 0; i < opts.NumCelebs; i++ {
		catalog.Celebs = append(catalog.Celebs, makeUser(true))
	}
	for i := 0; i < opts.NumRegulars; i++ {
		catalog.Regulars = append(catalog.Regulars, makeUser(false))
	}

	all := catalog.Combined()
	if err := db.WithContext(ctx).Create(&all).Error; err != nil {
		return nil, fmt.Errorf("creating accounts: %w", err)
	}

	catalog.Celebs = all[:opts.NumCelebs]
	catalog.Regulars = all[opts.NumCelebs:]
	return catalog, nil
}

func genPost(db *gorm.DB, ctx context.Context, author *models.User) error {
	catName := categories[rand.Intn(len(categories))]
	var cat models.Category
	if err := db.WithContext(ctx).Where(models.Category{Name: catName}).FirstOrCreate(&cat).Error; err != nil {
		return err
	}

	post := models.Post{
		Title:      gofakeit.Sentence(5),
		Content:    gofakeit.Paragraph(2, 4, 12, " "),
		AuthorID:   author.ID,
		CategoryID: cat.ID,
		Tags:       []string{gofakeit.Word(), gofakeit.Word()},
	}
	if gofakeit.Bool() {
		post.Image = gofakeit.ImageURL(640, 480)
	}
	return db.WithContext(ctx).Create(&post).Error
}

func GenPosts(ctx context.Context, db *gorm.DB, catalog *AccountCatalog, opts GenOpts) error {
	for i := range catalog.Celebs {
		for j := 0; j < opts.PostsPerCeleb; j++ {
			if err := genPost(db, ctx, &catalog.Celebs[i]); err != nil {
				return err
			}
		}
	}
	for i := range catalog.Regulars {
		for j := 0; j < opts.PostsPerUser; j++ {
			if err := genPost(db, ctx, &catalog.Regulars[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// GenFollows points everyone at the celebs plus a random slice of regulars.
func GenFollows(ctx context.Context, db *gorm.DB, catalog *AccountCatalog, opts GenOpts) error {
	g := graph.NewGraph(db)
	all := catalog.Combined()

	for i := range all {
		follower := &all[i]

		for j := range catalog.Celebs {
			if err := followQuietly(ctx, g, follower.ID, catalog.Celebs[j].ID); err != nil {
				return err
			}
		}

		n := rand.Intn(opts.MaxFollows + 1)
		for j := 0; j < n; j++ {
			target := &catalog.Regulars[rand.Intn(len(catalog.Regulars))]
			if err := followQuietly(ctx, g, follower.ID, target.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func followQuietly(ctx context.Context, g *graph.Graph, follower, target uint) error {
	err := g.Follow(ctx, follower, target)
	switch err {
	case nil, graph.ErrSelfFollow, graph.ErrAlreadyFollowing:
		return nil
	default:
		return err
	}
}

func GenComments(ctx context.Context, db *gorm.DB, catalog *AccountCatalog, opts GenOpts) error {
	var postIDs []uint
	if err := db.WithContext(ctx).Model(&models.Post{}).Pluck("id", &postIDs).Error; err != nil {
		return err
	}
	if len(postIDs) == 0 {
		return nil
	}

	all := catalog.Combined()
	for i := 0; i < opts.CommentsPerDay; i++ {
		cm := models.Comment{
			PostID:   postIDs[rand.Intn(len(postIDs))],
			AuthorID: all[rand.Intn(len(all))].ID,
			Content:  gofakeit.Sentence(10),
		}
		if err := db.WithContext(ctx).Create(&cm).Error; err != nil {
			return err
		}
	}
	return nil
}

// Seed runs the full generation pipeline.
func Seed(ctx context.Context, db *gorm.DB, opts GenOpts) error {
	log := slog.Default().With("system", "fakedata")

	catalog, err := GenAccounts(ctx, db, opts)
	if err != nil {
		return err
	}
	log.Info("generated accounts", "celebs", len(catalog.Celebs), "regulars", len(catalog.Regulars))

	if err := GenPosts(ctx, db, catalog, opts); err != nil {
		return err
	}
	if err := GenFollows(ctx, db, catalog, opts); err != nil {
		return err
	}
	if err := GenComments(ctx, db, catalog, opts); err != nil {
		return err
	}

	log.Info("seeding complete")
	return nil
}
