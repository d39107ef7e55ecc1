// Seed tool: registers fake users, follow edges and posts through the normal
// services so timelines are delivered the same way the server delivers them.
package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"socialfeed/config"
	"socialfeed/db"
	"socialfeed/logging"
	"socialfeed/models"
	"socialfeed/services"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-redis/redis/v8"
)

func main() {
	var configPath string
	var numUsers, followsPerUser, postsPerUser int
	var seed int64
	flag.StringVar(&configPath, "config", "etc/app.yaml", "Path to the configuration file")
	flag.IntVar(&numUsers, "users", 200, "number of users")
	flag.IntVar(&followsPerUser, "follows", 20, "follow edges per user")
	flag.IntVar(&postsPerUser, "posts", 10, "posts per user")
	flag.Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	logging.Init(logging.Config{Level: cfg.Logs.Level, Pretty: true, ServiceName: "seed"})
	logger := logging.L()

	start := time.Now()
	if err := run(cfg, seed, numUsers, followsPerUser, postsPerUser); err != nil {
		logger.Fatal().Err(err).Msg("seed failed")
	}
	logger.Info().Dur("took", time.Since(start).Truncate(time.Millisecond)).Msg("seed done")
}

func run(cfg *config.Config, seed int64, numUsers, followsPerUser, postsPerUser int) error {
	ctx := logging.WithLogger(context.Background(), logging.L())
	logger := logging.L()

	manager, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	defer manager.Close()
	if err := manager.Migrate(); err != nil {
		return err
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer redisClient.Close()

	rnd := services.NewLockedRand(seed)
	app := services.NewApp(services.AppDeps{
		DB:       manager,
		Timeline: services.NewRedisTimelineStore(redisClient, rnd),
		Feed:     cfg.Feed,
		Workers:  cfg.Workers,
		Rand:     rnd,
		Inline:   true,
	})
	faker := gofakeit.New(uint64(seed))

	ids := make([]int64, 0, numUsers)
	for i := 0; i < numUsers; i++ {
		name := fmt.Sprintf("%s_%d", strings.ToLower(faker.FirstName()), i)
		u, err := app.Users.Register(ctx, services.RegisterInput{
			Username: name,
			Email:    name + "@example.com",
			Password: faker.Password(true, true, true, false, false, 12),
			Nickname: faker.Name(),
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
		ids = append(ids, u.ID)
	}
	logger.Info().Int("users", len(ids)).Msg("users registered")

	edges := 0
	for _, follower := range ids {
		for j := 0; j < followsPerUser; j++ {
			target := ids[rnd.Intn(len(ids))]
			// self-follow и повторы отбрасываются сервисом
			if err := app.Follows.Follow(ctx, follower, target); err == nil {
				edges++
			} else if services.KindOf(err) == services.KindInternal {
				return err
			}
		}
	}
	logger.Info().Int("follows", edges).Msg("follow graph built")

	posts := 0
	for i := 0; i < postsPerUser; i++ {
		for _, author := range ids {
			v := models.AllVisibilities[rnd.Intn(len(models.AllVisibilities))]
			_, err := app.Posts.CreatePost(ctx, author, services.CreatePostInput{
				Content:    faker.Sentence(rnd.Intn(20) + 3),
				Visibility: string(v),
			})
			if err != nil {
				return fmt.Errorf("create post for %d: %w", author, err)
			}
			posts++
		}
	}
	logger.Info().Int("posts", posts).Msg("posts created and fanned out")
	return nil
}
