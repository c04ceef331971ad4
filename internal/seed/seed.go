// Package seed fills the database with demo users, threaded comments, votes
// and bookmarks. It is meant for development and tests only.
package seed

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"threadboard/internal/models"
	"threadboard/internal/sanitize"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options controls how much data Run creates.
type Options struct {
	Users    int
	Comments int
	// ReplyRatio is the share of registered authors' comments posted as
	// replies, 0 to 1.
	ReplyRatio float64
	// VotesPerUser is the upper bound of votes cast by each user.
	VotesPerUser int
	// MaxDays spreads created_at over this many past days.
	MaxDays int
	// Seed fixes the generated content when non-zero.
	Seed int64
}

// DefaultOptions is used by the seed command when no flags are given.
var DefaultOptions = Options{
	Users:        20,
	Comments:     120,
	ReplyRatio:   0.6,
	VotesPerUser: 15,
	MaxDays:      30,
}

// Result reports what Run created.
type Result struct {
	Users     int
	Comments  int
	Replies   int
	Votes     int
	Bookmarks int
}

// Seeder writes generated data through a gorm handle.
type Seeder struct {
	db   *gorm.DB
	opts Options
	rnd  *rand.Rand
	fake *gofakeit.Faker
}

// NewSeeder creates a Seeder bound to db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = DefaultOptions.MaxDays
	}
	return &Seeder{
		db:   db,
		opts: opts,
		rnd:  rand.New(rand.NewSource(seed)),
		fake: gofakeit.New(seed),
	}
}

// ClearAll removes every comment, vote, bookmark and user.
func (s *Seeder) ClearAll() error {
	log.Println("🧹 Clearing existing data...")
	for _, model := range []interface{}{&models.Bookmark{}, &models.Vote{}, &models.Comment{}, &models.User{}} {
		if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
			return fmt.Errorf("clear %T: %w", model, err)
		}
	}
	return nil
}

// Run creates users, then comments in chronological order so replies always
// follow their parent, then votes and bookmarks.
func (s *Seeder) Run() (*Result, error) {
	res := &Result{}

	users, err := s.createUsers()
	if err != nil {
		return nil, err
	}
	res.Users = len(users)

	comments, replies, err := s.createComments(users)
	if err != nil {
		return nil, err
	}
	res.Comments = len(comments)
	res.Replies = replies

	if res.Votes, res.Bookmarks, err = s.createReactions(users, comments); err != nil {
		return nil, err
	}

	log.Printf("✅ Seeded %d users, %d comments (%d replies), %d votes, %d bookmarks",
		res.Users, res.Comments, res.Replies, res.Votes, res.Bookmarks)
	return res, nil
}

func (s *Seeder) createUsers() ([]*models.User, error) {
	users := make([]*models.User, 0, s.opts.Users)
	for i := 0; i < s.opts.Users; i++ {
		user := &models.User{
			Username: fmt.Sprintf("%s%d", s.fake.Username(), s.fake.Number(100, 999)),
			Email:    s.fake.Email(),
		}
		if err := s.db.Create(user).Error; err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		users = append(users, user)
	}
	return users, nil
}

func (s *Seeder) createComments(users []*models.User) ([]*models.Comment, int, error) {
	if s.opts.Comments <= 0 {
		return nil, 0, nil
	}

	start := time.Now().Add(-time.Duration(s.opts.MaxDays) * 24 * time.Hour)
	step := time.Since(start) / time.Duration(s.opts.Comments+1)

	comments := make([]*models.Comment, 0, s.opts.Comments)
	replies := 0
	for i := 0; i < s.opts.Comments; i++ {
		text, err := sanitize.Sanitize(s.text())
		if err != nil {
			return nil, 0, fmt.Errorf("generated text rejected: %w", err)
		}

		comment := &models.Comment{
			Text:      text,
			CreatedAt: start.Add(time.Duration(i+1) * step),
		}
		s.assignAuthor(comment, users)

		// only registered authors may reply
		if comment.UserID != nil && len(comments) > 0 && s.rnd.Float64() < s.opts.ReplyRatio {
			parent := comments[s.rnd.Intn(len(comments))]
			comment.ParentID = &parent.ID
			replies++
		}

		if err := s.db.Create(comment).Error; err != nil {
			return nil, 0, fmt.Errorf("create comment: %w", err)
		}
		comments = append(comments, comment)
	}
	return comments, replies, nil
}

// assignAuthor picks a registered author, or an anonymous one a quarter of
// the time.
func (s *Seeder) assignAuthor(c *models.Comment, users []*models.User) {
	if len(users) > 0 && s.rnd.Intn(4) != 0 {
		user := users[s.rnd.Intn(len(users))]
		c.UserID = &user.ID
		c.UserName = user.Username
		c.Email = user.Email
	} else {
		c.UserName = s.fake.FirstName()
		c.Email = s.fake.Email()
	}
	if s.rnd.Intn(3) == 0 {
		homePage := s.fake.URL()
		c.HomePage = &homePage
	}
}

func (s *Seeder) text() string {
	switch s.rnd.Intn(4) {
	case 0:
		return fmt.Sprintf("<strong>%s</strong> %s", s.fake.Word(), s.fake.Sentence(8))
	case 1:
		return fmt.Sprintf("%s <code>%s</code>", s.fake.Sentence(6), s.fake.HackerVerb())
	default:
		return s.fake.Paragraph(1, s.rnd.Intn(3)+1, 12, " ")
	}
}

func (s *Seeder) createReactions(users []*models.User, comments []*models.Comment) (int, int, error) {
	if len(comments) == 0 {
		return 0, 0, nil
	}

	votes, bookmarks := 0, 0
	for _, user := range users {
		n := s.opts.VotesPerUser
		if n > len(comments) {
			n = len(comments)
		}
		for _, idx := range s.rnd.Perm(len(comments))[:n] {
			value := models.VoteUp
			if s.rnd.Intn(4) == 0 {
				value = models.VoteDown
			}
			vote := &models.Vote{UserID: user.ID, CommentID: comments[idx].ID, Value: value}
			if err := s.db.Create(vote).Error; err != nil {
				return 0, 0, fmt.Errorf("create vote: %w", err)
			}
			votes++

			if s.rnd.Intn(5) == 0 {
				bookmark := &models.Bookmark{UserID: user.ID, CommentID: comments[idx].ID}
				if err := s.db.Create(bookmark).Error; err != nil {
					return 0, 0, fmt.Errorf("create bookmark: %w", err)
				}
				bookmarks++
			}
		}
	}
	return votes, bookmarks, nil
}
