// Package gate 实现文件领取的门禁流程：强制关注检查、验证链接与最短停留时间
//
// 状态流转：请求 -> 关注检查 -> 下发验证 -> 停留等待 -> 放行，
// 未关注时进入 JoinRequired，用户点击重试后重新检查。
package gate

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"filestore_bot/internal/linkcodec"
	"filestore_bot/internal/logger"
	"filestore_bot/internal/metrics"
	"filestore_bot/internal/telegram/models"
	"filestore_bot/internal/telegram/repository"
)

// ErrNotFound token 无法解析或对应文件不存在
var ErrNotFound = errors.New("file not found")

// State 门禁流程状态
type State string

const (
	StateNotFound     State = "not_found"
	StateJoinRequired State = "join_required"
	StateVerifyIssued State = "verify_issued"
	StateDwellWait    State = "dwell_wait"
	StateReleased     State = "released"
)

// MemberStatus 用户在强制关注频道中的状态
type MemberStatus string

const (
	MemberActive     MemberStatus = "member"
	MemberRestricted MemberStatus = "restricted"
	MemberLeft       MemberStatus = "left"
	MemberBanned     MemberStatus = "banned"
)

// Joined 是否视为已关注
func (s MemberStatus) Joined() bool {
	return s == MemberActive
}

// MissingSessionPolicy 确认时找不到会话的处理策略
type MissingSessionPolicy int

const (
	// AllowMissingSession 跳过停留检查直接放行
	AllowMissingSession MissingSessionPolicy = iota
	// RejectMissingSession 重新下发验证链接
	RejectMissingSession
)

func (p MissingSessionPolicy) String() string {
	if p == RejectMissingSession {
		return "reject"
	}
	return "allow"
}

// Outcome 一次门禁操作的结果
type Outcome struct {
	State          State
	File           *models.FileRecord
	InviteLink     string        // JoinRequired: 关注频道邀请链接，可能为空
	RetryPayload   string        // JoinRequired: 重试回调数据
	VerifyURL      string        // VerifyIssued: 验证链接
	ConfirmPayload string        // VerifyIssued/DwellWait: 确认回调数据
	Remaining      time.Duration // DwellWait: 剩余等待时间
}

// FileLookup 按原始引用查找文件
type FileLookup interface {
	FindByRawLink(ctx context.Context, rawLink string) (*models.FileRecord, error)
}

// OwnerLookup 读取文件所属用户配置
type OwnerLookup interface {
	GetOwnerConfig(ctx context.Context, userID int64) (*models.OwnerConfig, error)
}

// Platform 消息平台协作方
type Platform interface {
	Membership(ctx context.Context, chatID, userID int64) (MemberStatus, error)
	InviteLink(ctx context.Context, chatID int64) (string, error)
	CopyItem(ctx context.Context, toChatID, fromChatID int64, messageID int, caption string) (int, error)
}

// Shortener 生成验证短链，失败时返回原链接
type Shortener interface {
	Shorten(ctx context.Context, target string, settings models.ShortenerSettings) string
}

// Config 门禁参数
type Config struct {
	Dwell         time.Duration
	VerifyTarget  string
	MissingPolicy MissingSessionPolicy
	SessionTTL    time.Duration
}

// Gate 门禁状态机
type Gate struct {
	files     FileLookup
	owners    OwnerLookup
	platform  Platform
	shortener Shortener
	sessions  *SessionStore
	cfg       Config
	now       func() time.Time
}

// New 创建门禁
func New(files FileLookup, owners OwnerLookup, platform Platform, shortener Shortener, cfg Config) *Gate {
	if cfg.Dwell <= 0 {
		cfg.Dwell = 15 * time.Second
	}
	if cfg.VerifyTarget == "" {
		cfg.VerifyTarget = "https://google.com"
	}
	return &Gate{
		files:     files,
		owners:    owners,
		platform:  platform,
		shortener: shortener,
		sessions:  NewSessionStore(cfg.SessionTTL),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Sessions 会话表
func (g *Gate) Sessions() *SessionStore {
	return g.sessions
}

// Resolve 解析 token 并查找文件
func (g *Gate) Resolve(ctx context.Context, token string) (*models.FileRecord, error) {
	raw, err := linkcodec.Decode(token)
	if err != nil {
		return nil, ErrNotFound
	}

	file, err := g.files.FindByRawLink(ctx, raw)
	if err != nil {
		if errors.Is(err, repository.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find file: %w", err)
	}
	return file, nil
}

// Request 处理 get_ 深链：关注检查通过后下发验证链接
func (g *Gate) Request(ctx context.Context, userID int64, token string) (*Outcome, error) {
	file, err := g.Resolve(ctx, token)
	if err != nil {
		return g.failure(err)
	}

	owner, err := g.loadOwner(ctx, file.OwnerID)
	if err != nil {
		return nil, err
	}
	if outcome := g.checkMembership(ctx, owner, userID, token, file); outcome != nil {
		return outcome, nil
	}

	return g.issueVerify(ctx, owner, userID, token, file), nil
}

// Retry 处理 retry_ 回调，重新进入关注检查
func (g *Gate) Retry(ctx context.Context, userID int64, token string) (*Outcome, error) {
	return g.Request(ctx, userID, token)
}

// Confirm 处理 finalget_ 回调：检查停留时间后把文件复制给用户
func (g *Gate) Confirm(ctx context.Context, userID int64, token string) (*Outcome, error) {
	file, err := g.Resolve(ctx, token)
	if err != nil {
		return g.failure(err)
	}

	owner, err := g.loadOwner(ctx, file.OwnerID)
	if err != nil {
		return nil, err
	}
	if outcome := g.checkMembership(ctx, owner, userID, token, file); outcome != nil {
		return outcome, nil
	}

	now := g.now()
	session, ok := g.sessions.Lookup(userID, now)
	switch {
	case !ok && g.cfg.MissingPolicy == RejectMissingSession:
		logger.L().Infof("Confirm without session, re-issuing verification: user_id=%d", userID)
		return g.issueVerify(ctx, owner, userID, token, file), nil
	case !ok:
		logger.L().Debugf("Confirm without session, dwell check skipped: user_id=%d", userID)
	default:
		if session.Token != token {
			// 会话按用户保存，换了文件仍从最近一次下发开始计时
			logger.L().Infof("Confirm token differs from issued session: user_id=%d", userID)
		}
		if elapsed := now.Sub(session.IssuedAt); elapsed < g.cfg.Dwell {
			metrics.GateOutcomes.WithLabelValues(string(StateDwellWait)).Inc()
			return &Outcome{
				State:          StateDwellWait,
				File:           file,
				ConfirmPayload: linkcodec.PrefixFinalGet + token,
				Remaining:      g.cfg.Dwell - elapsed,
			}, nil
		}
	}

	caption := fmt.Sprintf("📁 <code>%s</code>", html.EscapeString(file.FileName))
	if _, err := g.platform.CopyItem(ctx, userID, file.ChatID, file.MessageID, caption); err != nil {
		return nil, fmt.Errorf("failed to deliver file: %w", err)
	}

	g.sessions.Clear(userID)
	metrics.GateOutcomes.WithLabelValues(string(StateReleased)).Inc()
	logger.L().Infof("File released: user_id=%d, owner_id=%d, file=%q", userID, file.OwnerID, file.FileName)
	return &Outcome{State: StateReleased, File: file}, nil
}

func (g *Gate) failure(err error) (*Outcome, error) {
	if errors.Is(err, ErrNotFound) {
		metrics.GateOutcomes.WithLabelValues(string(StateNotFound)).Inc()
		return &Outcome{State: StateNotFound}, nil
	}
	return nil, err
}

// loadOwner 读取用户配置；配置不存在时按未配置门禁处理，其余错误直接返回，不能放行
func (g *Gate) loadOwner(ctx context.Context, ownerID int64) (*models.OwnerConfig, error) {
	owner, err := g.owners.GetOwnerConfig(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrOwnerNotFound) {
			return nil, nil
		}
		logger.L().Errorf("Failed to load owner config for gate: owner_id=%d, err=%v", ownerID, err)
		return nil, fmt.Errorf("failed to load owner config: %w", err)
	}
	return owner, nil
}

// checkMembership 未关注或检查失败时返回 JoinRequired，通过时返回 nil
func (g *Gate) checkMembership(ctx context.Context, owner *models.OwnerConfig, userID int64, token string, file *models.FileRecord) *Outcome {
	if !owner.HasGate() {
		return nil
	}

	status, err := g.platform.Membership(ctx, owner.FSubChannel, userID)
	if err == nil && status.Joined() {
		return nil
	}
	if err != nil {
		logger.L().Warnf("Membership check failed, treating as not joined: chat_id=%d, user_id=%d, err=%v", owner.FSubChannel, userID, err)
	}

	invite, linkErr := g.platform.InviteLink(ctx, owner.FSubChannel)
	if linkErr != nil {
		logger.L().Warnf("Failed to export invite link: chat_id=%d, err=%v", owner.FSubChannel, linkErr)
	}

	metrics.GateOutcomes.WithLabelValues(string(StateJoinRequired)).Inc()
	return &Outcome{
		State:        StateJoinRequired,
		File:         file,
		InviteLink:   invite,
		RetryPayload: linkcodec.PrefixRetry + token,
	}
}

func (g *Gate) issueVerify(ctx context.Context, owner *models.OwnerConfig, userID int64, token string, file *models.FileRecord) *Outcome {
	verifyURL := g.cfg.VerifyTarget
	if g.shortener != nil {
		verifyURL = g.shortener.Shorten(ctx, g.cfg.VerifyTarget, owner.Shortener())
	}

	g.sessions.Issue(userID, token, g.now())
	metrics.GateOutcomes.WithLabelValues(string(StateVerifyIssued)).Inc()

	return &Outcome{
		State:          StateVerifyIssued,
		File:           file,
		VerifyURL:      verifyURL,
		ConfirmPayload: linkcodec.PrefixFinalGet + token,
	}
}
