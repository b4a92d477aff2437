// Package database opens the mongo and redis connections the server runs on.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	connectAttempts = 3
	retryDelay      = 2 * time.Second
	connectTimeout  = 15 * time.Second
)

// ConnectMongo connects and pings, retrying a few times for slow starts.
func ConnectMongo(ctx context.Context, uri, dbName string, log zerolog.Logger) (*mongo.Client, *mongo.Database, error) {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		client, err := connectMongo(ctx, uri)
		if err == nil {
			log.Info().Str("db", dbName).Msg("connected to mongo")
			return client, client.Database(dbName), nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("mongo connection failed")

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, nil, fmt.Errorf("connect mongo: %w", lastErr)
}

func connectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

func DisconnectMongo(client *mongo.Client, log zerolog.Logger) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Disconnect(ctx); err != nil {
		return err
	}
	log.Info().Msg("disconnected from mongo")
	return nil
}

// ConnectRedis returns a client that has answered a ping.
func ConnectRedis(ctx context.Context, addr string, log zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info().Str("addr", addr).Msg("connected to redis")
	return client, nil
}
