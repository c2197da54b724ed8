// Package discord reads trade commands and member nicknames from a Discord
// guild over the REST API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tradesim/trade-simulator/internal/model"
)

const DefaultBaseURL = "https://discord.com/api/v9"

var ErrUnauthorized = errors.New("discord: unauthorized")

// Config holds the channel, guild and bot credentials.
type Config struct {
	BaseURL   string
	Token     string
	ChannelID string
	GuildID   string
	// Limit is the number of recent messages to fetch (Discord caps it at 100).
	Limit int
	// PollingPeriod drops messages older than now minus the period. Zero keeps all.
	PollingPeriod time.Duration
	Timeout       time.Duration
}

// Client is a Discord REST client.
type Client struct {
	http *resty.Client
	cfg  Config
	now  func() time.Time
}

type apiUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
}

type apiMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Author    apiUser   `json:"author"`
}

type apiMember struct {
	Nick string  `json:"nick"`
	User apiUser `json:"user"`
}

// New creates a Discord client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Limit <= 0 || cfg.Limit > 100 {
		cfg.Limit = 50
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Authorization", "Bot "+cfg.Token)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
	})

	return &Client{
		http: client,
		cfg:  cfg,
		now:  time.Now,
	}
}

// Messages returns recent channel messages as chat commands, oldest first.
func (c *Client) Messages(ctx context.Context) ([]model.ChatCommand, error) {
	var msgs []apiMessage
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("channel", c.cfg.ChannelID).
		SetQueryParam("limit", strconv.Itoa(c.cfg.Limit)).
		SetResult(&msgs).
		Get("/channels/{channel}/messages")
	if err != nil {
		return nil, fmt.Errorf("fetch messages for channel %s: %w", c.cfg.ChannelID, err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var threshold time.Time
	if c.cfg.PollingPeriod > 0 {
		threshold = c.now().Add(-c.cfg.PollingPeriod)
	}

	out := make([]model.ChatCommand, 0, len(msgs))
	// Discord returns newest first.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Timestamp.Before(threshold) {
			continue
		}
		out = append(out, model.ChatCommand{
			ID:        m.ID,
			Timestamp: m.Timestamp.UTC(),
			Author:    model.Author{ID: m.Author.ID, Username: m.Author.Username},
			Content:   m.Content,
		})
	}
	return out, nil
}

// DisplayNames maps usernames to guild nicknames, falling back to the
// global display name.
func (c *Client) DisplayNames(ctx context.Context) (map[string]string, error) {
	var members []apiMember
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("guild", c.cfg.GuildID).
		SetQueryParam("limit", "1000").
		SetResult(&members).
		Get("/guilds/{guild}/members")
	if err != nil {
		return nil, fmt.Errorf("fetch members for guild %s: %w", c.cfg.GuildID, err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(members))
	for _, m := range members {
		switch {
		case m.Nick != "":
			names[m.User.Username] = m.Nick
		case m.User.GlobalName != "":
			names[m.User.Username] = m.User.GlobalName
		}
	}
	return names, nil
}

func checkResponse(resp *resty.Response) error {
	switch {
	case resp.StatusCode() == 401 || resp.StatusCode() == 403:
		return fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status())
	case resp.IsError():
		return fmt.Errorf("discord: API error %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
