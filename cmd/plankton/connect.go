package main

import (
	"errors"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cyberinferno/plankton/logger"
	"github.com/cyberinferno/plankton/messenger"
	"github.com/cyberinferno/plankton/protocol"
	"github.com/cyberinferno/plankton/radio"
	"github.com/cyberinferno/plankton/sessionstore"
	"github.com/redis/go-redis/v9"
)

type connectCommand struct {
	app *app

	Server     string        `long:"server" env:"PLANKTON_SERVER" default:"127.0.0.1:9000" description:"Server address"`
	Device     string        `long:"device" env:"PLANKTON_DEVICE" description:"Device id as 64 hex characters"`
	DeviceName string        `long:"device-name" env:"PLANKTON_DEVICE_NAME" description:"Derive a stable device id from this name"`
	MinPort    int           `long:"min-port" default:"32000" description:"Lowest local UDP port to try"`
	MaxPort    int           `long:"max-port" default:"35000" description:"Highest local UDP port to try"`
	Redis      string        `long:"redis" env:"PLANKTON_REDIS" description:"Redis address for saved sessions (in-memory when empty)"`
	Create     bool          `long:"create" description:"Create a room once logged in"`
	Join       bool          `long:"join" description:"Join a room once logged in"`
	Attr       int32         `long:"attr" default:"0" description:"Matchmaking attribute A for --create and --join"`
	Say        string        `long:"say" description:"Send this text to the other players at every report"`
	Table      bool          `long:"table" description:"Print a presence table at every report"`
	Report     time.Duration `long:"report" default:"2s" description:"Report interval"`
	Poll       time.Duration `long:"poll" default:"16ms" description:"Poll interval"`
}

func (c *connectCommand) config() radio.Config {
	cfg := radio.DefaultConfig(c.Server)
	cfg.MinPort = c.MinPort
	cfg.MaxPort = c.MaxPort
	return cfg
}

func (c *connectCommand) sessionStore(log logger.Logger) (sessionstore.Store[messenger.SessionInfo], func(), error) {
	if c.Redis == "" {
		return sessionstore.NewMemoryStore[messenger.SessionInfo](time.Minute), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: c.Redis})
	if err := client.Ping(c.app.ctx).Err(); err != nil {
		_ = client.Close()
		log.Error("redis unreachable", logger.F("addr", c.Redis), logger.Err(err))
		return nil, nil, err
	}
	return sessionstore.NewRedisStore[messenger.SessionInfo](client), func() { _ = client.Close() }, nil
}

// Execute implements flags.Commander.
func (c *connectCommand) Execute([]string) error {
	if c.Create && c.Join {
		return errors.New("--create and --join are exclusive")
	}

	log, err := c.app.logger("plankton-client")
	if err != nil {
		return err
	}
	defer log.Close()

	device, err := deviceID(c.Device, c.DeviceName)
	if err != nil {
		return err
	}

	store, closeStore, err := c.sessionStore(log)
	if err != nil {
		return err
	}
	defer closeStore()

	r := radio.New(c.config(), radio.WithLogger(log), radio.WithSessionStore(store))
	r.OnPlayerConnected(func(e radio.PlayerEvent) {
		log.Info("player connected", logger.F("player", e.Player.ID()), logger.F("mine", e.Player.IsMine()))
	})
	r.OnPlayerDisconnected(func(e radio.PlayerEvent) {
		log.Info("player disconnected", logger.F("player", e.Player.ID()))
	})
	r.OnMessage(func(e radio.MessageEvent) {
		log.Info("message", logger.F("player", e.Player.ID()), logger.F("kind", e.Kind.String()), logger.F("text", string(e.Payload)))
	})
	r.OnError(func(e radio.ErrorEvent) {
		log.Warn("request failed", logger.F("op", e.Op), logger.Err(e.Error))
	})

	if err := c.connect(r, device, log); err != nil {
		return err
	}
	defer r.Disconnect()

	return c.loop(r, log)
}

// connect retries Connect while no local port can be opened.
func (c *connectCommand) connect(r *radio.Radio, device []byte, log logger.Logger) error {
	_, err := backoff.Retry(c.app.ctx, func() (struct{}, error) {
		err := r.Connect(device)
		if err == nil || errors.Is(err, protocol.ErrUnreachable) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("connect failed, retrying", logger.Err(err), logger.F("in", next.String()))
		}),
	)
	return err
}

func (c *connectCommand) loop(r *radio.Radio, log logger.Logger) error {
	poll := time.NewTicker(c.Poll)
	defer poll.Stop()
	tick := time.NewTicker(c.config().TickInterval)
	defer tick.Stop()
	report := time.NewTicker(c.Report)
	defer report.Stop()

	roomRequested := false
	for {
		select {
		case <-c.app.ctx.Done():
			return nil
		case <-poll.C:
			r.Poll()
		case <-tick.C:
			r.Tick()
			if !roomRequested && r.IsConnected() && (c.Create || c.Join) {
				roomRequested = true
				c.enterRoom(r, log)
			}
		case now := <-report.C:
			if c.Say != "" && r.IsConnected() {
				if err := r.SendUnreliable(protocol.TargetOther, []byte(c.Say), 0); err != nil {
					log.Warn("send failed", logger.Err(err))
				}
			}
			if c.Table {
				renderPresence(os.Stdout, r, now)
			}
		}
	}
}

func (c *connectCommand) enterRoom(r *radio.Radio, log logger.Logger) {
	params := protocol.MatchmakingParams{A: c.Attr}
	if c.Create {
		r.CreateRoom(300, nil, params, func(err error, roomID int16, index int8) {
			if err == nil {
				log.Info("room created", logger.F("room", roomID), logger.F("index", index))
			}
		})
		return
	}
	r.JoinRoom(protocol.Exact(params), func(err error, roomID int16, index int8, _ [protocol.PropertiesSize]byte) {
		if err == nil {
			log.Info("room joined", logger.F("room", roomID), logger.F("index", index))
		}
	})
}
