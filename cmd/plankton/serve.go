package main

import (
	"errors"
	"os"
	"time"

	"github.com/cyberinferno/plankton/devserver"
	"github.com/cyberinferno/plankton/logger"
	"github.com/cyberinferno/plankton/sessionstore"
	"github.com/redis/go-redis/v9"
)

type serveCommand struct {
	app *app

	Listen        string        `long:"listen" env:"PLANKTON_LISTEN" default:"127.0.0.1:9000" description:"UDP address to listen on"`
	LobbyCapacity int           `long:"lobby-capacity" env:"PLANKTON_LOBBY_CAPACITY" default:"256" description:"Maximum concurrent sessions"`
	MaxRooms      int           `long:"max-rooms" env:"PLANKTON_MAX_ROOMS" default:"64" description:"Maximum open rooms"`
	RoomCapacity  int           `long:"room-capacity" env:"PLANKTON_ROOM_CAPACITY" default:"16" description:"Player slots per room"`
	SessionTTL    time.Duration `long:"session-ttl" env:"PLANKTON_SESSION_TTL" default:"1m" description:"How long a silent session is kept"`
	Redis         string        `long:"redis" env:"PLANKTON_REDIS" description:"Redis address for device bindings (in-memory when empty)"`
	Report        time.Duration `long:"report" env:"PLANKTON_REPORT" default:"0s" description:"Print a room table at this interval (0 disables)"`
}

func (c *serveCommand) config() devserver.Config {
	cfg := devserver.DefaultConfig(c.Listen)
	cfg.LobbyCapacity = c.LobbyCapacity
	cfg.MaxRooms = c.MaxRooms
	cfg.RoomCapacity = c.RoomCapacity
	cfg.SessionTTL = c.SessionTTL
	return cfg
}

// Execute implements flags.Commander.
func (c *serveCommand) Execute([]string) error {
	log, err := c.app.logger("plankton-devserver")
	if err != nil {
		return err
	}
	defer log.Close()

	var opts []devserver.Option
	if c.Redis != "" {
		client := redis.NewClient(&redis.Options{Addr: c.Redis})
		defer client.Close()
		if err := client.Ping(c.app.ctx).Err(); err != nil {
			log.Error("redis unreachable", logger.F("addr", c.Redis), logger.Err(err))
			return err
		}
		opts = append(opts, devserver.WithDeviceStore(sessionstore.NewRedisStore[uint32](client)))
	}

	srv, err := devserver.New(c.config(), log, opts...)
	if err != nil {
		return err
	}

	if c.Report > 0 {
		go func() {
			ticker := time.NewTicker(c.Report)
			defer ticker.Stop()
			for {
				select {
				case <-c.app.ctx.Done():
					return
				case <-ticker.C:
					renderRooms(os.Stdout, srv.Stats(), srv.Rooms())
				}
			}
		}()
	}

	if err := srv.Run(c.app.ctx); err != nil && !errors.Is(err, devserver.ErrClosed) {
		return err
	}
	return nil
}
