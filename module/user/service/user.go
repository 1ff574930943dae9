package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"

	"GotMail/logger"
	"GotMail/module/mailbox/event"
	usermodel "GotMail/module/user/model"
	mgo "GotMail/service/mgo"
	"GotMail/service/mailer"
	"GotMail/tools"
	"GotMail/tools/errs"
	ids "GotMail/tools/ids"
	jwtlib "GotMail/tools/security"
	"GotMail/tools/safe"
)

const (
	resetTokenTTL  = time.Hour
	verifyCodeTTL  = 10 * time.Minute
	twoFACodeTTL   = 10 * time.Minute
	minPasswordLen = 8
)

var (
	usernameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,31}$`)
	phoneRe    = regexp.MustCompile(`^\+?\d{9,15}$`)
)

// Config 注入点。Provision 在注册成功后初始化该用户的邮箱资源
// (默认标签/设置), 由 mailbox 模块在启动时挂入, 避免反向依赖。
type Config struct {
	JWT       jwtlib.Options
	Domain    string // 收信域, 注册时拼 <username>@<domain>
	Mailer    mailer.Sender
	Pub       *event.Publisher
	Provision func(ctx context.Context, userID string) error
}

type Service struct {
	conf Config
}

func New(conf Config) *Service {
	return &Service{conf: conf}
}

func users() *mongo.Collection { return (&usermodel.User{}).Collection() }

func sessions() *mongo.Collection { return (&usermodel.UserSession{}).Collection() }

func notifications() *mongo.Collection { return (&usermodel.Notification{}).Collection() }

// EnsureIndexes 建唯一索引与 TTL, 幂等, 启动时在 Mongo 就绪后调用
func EnsureIndexes(ctx context.Context) error {
	db := mgo.GetDB()
	_, err := db.Collection("users").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "phone", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return errs.WrapMsg(err, "ensure user indexes")
	}
	_, err = db.Collection("sessions").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "device_type", Value: 1}, {Key: "device_id", Value: 1}},
			Options: options.Index().SetUnique(true)},
		// 过期会话由 Mongo 自己清
		{Keys: bson.D{{Key: "expire_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	if err != nil {
		return errs.WrapMsg(err, "ensure session indexes")
	}
	_, err = db.Collection("notifications").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "create_time", Value: -1}},
	})
	if err != nil {
		return errs.WrapMsg(err, "ensure notification indexes")
	}
	return nil
}

// ===== 注册 =====

type RegisterParams struct {
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

func (s *Service) Register(ctx context.Context, in RegisterParams) (*usermodel.User, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	if !usernameRe.MatchString(username) {
		return nil, errs.ErrArgs.WrapMsg("invalid username", "username", in.Username)
	}
	if !phoneRe.MatchString(in.Phone) {
		return nil, errs.ErrArgs.WrapMsg("invalid phone", "phone", in.Phone)
	}
	if len(in.Password) < minPasswordLen {
		return nil, errs.ErrArgs.WrapMsg("password too short")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errs.WrapMsg(err, "hash password")
	}

	now := time.Now()
	u := &usermodel.User{
		UserID:       ids.GenerateString(),
		Username:     username,
		Email:        username + "@" + s.conf.Domain,
		Phone:        in.Phone,
		Nickname:     in.Nickname,
		PasswordHash: string(hash),
		Status:       usermodel.UserNormal,
		CreateTime:   now,
		UpdateTime:   now,
	}
	if u.Nickname == "" {
		u.Nickname = username
	}

	if _, err := users().InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errs.ErrDuplicate.WrapMsg("username/phone taken", "username", username)
		}
		return nil, errs.WrapMsg(err, "insert user")
	}

	if s.conf.Provision != nil {
		// 资源初始化失败不回滚注册, 设置/标签可以懒建
		if err := s.conf.Provision(ctx, u.UserID); err != nil {
			logger.Warnf("[UserService] provision failed user=%s err=%v", u.UserID, err)
		}
	}
	logger.Infof("[UserService] registered user=%s email=%s", u.UserID, u.Email)
	return u, nil
}

// ===== 登录 =====

type LoginParams struct {
	Identifier string `json:"identifier"` // username / email / phone
	Password   string `json:"password"`
	Code       string `json:"code"` // 二验码, 首段登录留空
	DeviceType string `json:"device_type"`
	DeviceID   string `json:"device_id"`
	IP         string `json:"-"`
	UserAgent  string `json:"-"`
}

type LoginResult struct {
	Requires2FA bool            `json:"requires_2fa"`
	User        *usermodel.User `json:"user,omitempty"`
	Token       string          `json:"token,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	ExpireAt    time.Time       `json:"expire_at,omitempty"`
}

func (s *Service) findByIdentifier(ctx context.Context, identifier string) (*usermodel.User, error) {
	id := strings.ToLower(strings.TrimSpace(identifier))
	var u usermodel.User
	err := users().FindOne(ctx, bson.M{"$or": bson.A{
		bson.M{"username": id},
		bson.M{"email": id},
		bson.M{"phone": strings.TrimSpace(identifier)},
	}}).Decode(&u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Login 校验口令。开了二验的账号先发码, 第二段走 Login2FA。
func (s *Service) Login(ctx context.Context, in LoginParams) (*LoginResult, error) {
	u, err := s.findByIdentifier(ctx, in.Identifier)
	if err != nil {
		// 不区分"用户不存在"与"密码错", 避免探测
		return nil, errs.ErrPasswordWrong.Wrap()
	}
	if u.Status != usermodel.UserNormal {
		return nil, errs.ErrAuthFailed.WrapMsg("account disabled", "user", u.UserID)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)) != nil {
		return nil, errs.ErrPasswordWrong.Wrap()
	}

	if u.TwoFAEnabled {
		code := tools.RandDigits(6)
		exp := time.Now().Add(twoFACodeTTL)
		_, err := users().UpdateOne(ctx, bson.M{"user_id": u.UserID}, bson.M{"$set": bson.M{
			"two_fa_code":           code,
			"two_fa_code_expire_at": exp,
			"update_time":           time.Now(),
		}})
		if err != nil {
			return nil, errs.WrapMsg(err, "store 2fa code", "user", u.UserID)
		}
		s.sendCodeAsync(u.Email, "Your GotMail sign-in code", code)
		return &LoginResult{Requires2FA: true}, nil
	}

	return s.issueSession(ctx, u, in)
}

// Login2FA 二验第二段: 校验邮件里的一次性码
func (s *Service) Login2FA(ctx context.Context, in LoginParams) (*LoginResult, error) {
	u, err := s.findByIdentifier(ctx, in.Identifier)
	if err != nil {
		return nil, errs.ErrVerifyCode.Wrap()
	}
	if u.TwoFACode == "" || u.TwoFACode != strings.TrimSpace(in.Code) ||
		u.TwoFACodeExpireAt == nil || time.Now().After(*u.TwoFACodeExpireAt) {
		return nil, errs.ErrVerifyCode.Wrap()
	}
	_, err = users().UpdateOne(ctx, bson.M{"user_id": u.UserID}, bson.M{
		"$unset": bson.M{"two_fa_code": "", "two_fa_code_expire_at": ""},
		"$set":   bson.M{"update_time": time.Now()},
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "clear 2fa code", "user", u.UserID)
	}
	return s.issueSession(ctx, u, in)
}

func (s *Service) issueSession(ctx context.Context, u *usermodel.User, in LoginParams) (*LoginResult, error) {
	now := time.Now()
	sessionID := ids.GenerateString()
	token, hash, exp, err := jwtlib.Generate(s.conf.JWT, u.UserID, sessionID)
	if err != nil {
		return nil, errs.WrapMsg(err, "sign token", "user", u.UserID)
	}

	deviceType := in.DeviceType
	if deviceType == "" {
		deviceType = "web"
	}
	rec := usermodel.UserSession{
		SessionID:       sessionID,
		UserID:          u.UserID,
		DeviceType:      deviceType,
		DeviceID:        in.DeviceID,
		IP:              in.IP,
		UserAgent:       in.UserAgent,
		AccessTokenHash: hash,
		IsValid:         true,
		Status:          usermodel.SessionOnline,
		LoginTime:       now,
		LastActive:      now,
		ExpireTime:      exp,
		ExpireAt:        exp,
		CreateTime:      now,
		UpdateTime:      now,
	}

	key := SessionKey{UserID: u.UserID, DeviceType: deviceType, DeviceID: in.DeviceID}
	if err := ReLoginArchiveAndReplace(ctx, key, rec); err != nil {
		return nil, errs.WrapMsg(err, "persist session", "user", u.UserID)
	}

	_, _ = users().UpdateOne(ctx, bson.M{"user_id": u.UserID}, bson.M{"$set": bson.M{
		"last_login_ip":   in.IP,
		"last_login_time": now,
		"update_time":     now,
	}})

	logger.Infof("[UserService] login user=%s session=%s device=%s", u.UserID, sessionID, deviceType)
	return &LoginResult{User: u, Token: token, SessionID: sessionID, ExpireAt: exp}, nil
}

type SessionKey struct {
	UserID     string `json:"user_id"`
	DeviceType string `json:"device_type"`
	DeviceID   string `json:"device_id"`
}

// ReLoginArchiveAndReplace 同设备重登: 旧会话归档到 user_session_log,
// 新记录 upsert。两步在一个 Mongo 事务里。
func ReLoginArchiveAndReplace(ctx context.Context, key SessionKey, newRec usermodel.UserSession) error {
	db := mgo.GetDB()
	sess, err := db.Client().StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		coll := db.Collection("sessions")
		logColl := db.Collection("user_session_log")

		// 1) 查旧
		var old usermodel.UserSession
		err := coll.FindOne(sc, bson.M{
			"user_id": key.UserID, "device_type": key.DeviceType, "device_id": key.DeviceID, "is_valid": true,
		}).Decode(&old)
		if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}

		// 2) 归档
		if err == nil {
			entry := usermodel.UserSessionLog{
				LogID:        ids.GenerateString(),
				UserSession:  old,
				ArchivedAt:   time.Now(),
				ArchiveCause: "relogin",
			}
			if _, e := logColl.InsertOne(sc, &entry); e != nil {
				return nil, e
			}
		}

		// 3) replace + upsert
		newRec.UpdateTime = time.Now()
		_, err = coll.ReplaceOne(sc,
			bson.M{"user_id": key.UserID, "device_type": key.DeviceType, "device_id": key.DeviceID},
			&newRec,
			options.Replace().SetUpsert(true),
		)
		if err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// ===== 会话校验 / 注销 =====

// Authenticate 网关与 HTTP 鉴权共用: JWT 验签 + 活会话比对。
// token 哈希必须与落库哈希一致, 防止旧 token 在重登后继续使用。
func (s *Service) Authenticate(ctx context.Context, token string) (userID, sessionID string, err error) {
	claims, err := jwtlib.Verify(s.conf.JWT, token, "")
	if err != nil {
		return "", "", errs.ErrTokenInvalid.WrapMsg("jwt verify failed")
	}
	userID, sessionID = claims.UserID(), claims.SessionID()
	if userID == "" || sessionID == "" {
		return "", "", errs.ErrTokenInvalid.WrapMsg("claims incomplete")
	}

	var rec usermodel.UserSession
	if err := sessions().FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&rec); err != nil {
		return "", "", errs.ErrTokenInvalid.WrapMsg("session not found", "session", sessionID)
	}
	if !rec.IsValid || rec.Status != usermodel.SessionOnline {
		return "", "", errs.ErrSessionRevoked.WrapMsg("session not live", "session", sessionID)
	}
	if time.Now().After(rec.ExpireTime) {
		return "", "", errs.ErrTokenInvalid.WrapMsg("session expired", "session", sessionID)
	}
	if rec.AccessTokenHash != jwtlib.HashToken(token) {
		return "", "", errs.ErrTokenInvalid.WrapMsg("token superseded", "session", sessionID)
	}

	// last_active 尽力而为
	_, _ = sessions().UpdateOne(ctx, bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"last_active": time.Now()}})
	return userID, sessionID, nil
}

// Logout 置会话失效并广播 SessionRevoked, 各网关把该会话的连接断掉
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := jwtlib.Verify(s.conf.JWT, token, "")
	if err != nil {
		// 过期/伪造 token 注销视作成功, 幂等
		return nil
	}
	userID, sessionID := claims.UserID(), claims.SessionID()

	now := time.Now()
	res, err := sessions().UpdateOne(ctx,
		bson.M{"session_id": sessionID, "is_valid": true},
		bson.M{"$set": bson.M{
			"is_valid":    false,
			"status":      usermodel.SessionOffline,
			"reason":      "logout",
			"logout_time": now,
			"update_time": now,
		}})
	if err != nil {
		return errs.WrapMsg(err, "invalidate session", "session", sessionID)
	}
	if res.ModifiedCount == 0 {
		return nil // 已经退了
	}

	s.publishRevoked(ctx, userID, sessionID, "logout")
	logger.Infof("[UserService] logout user=%s session=%s", userID, sessionID)
	return nil
}

// RevokeAllSessions 全端下线, 密码重置后调用
func (s *Service) RevokeAllSessions(ctx context.Context, userID, reason string) error {
	now := time.Now()
	_, err := sessions().UpdateMany(ctx,
		bson.M{"user_id": userID, "is_valid": true},
		bson.M{"$set": bson.M{
			"is_valid":    false,
			"status":      usermodel.SessionKicked,
			"reason":      reason,
			"logout_time": now,
			"update_time": now,
		}})
	if err != nil {
		return errs.WrapMsg(err, "revoke sessions", "user", userID)
	}
	// session_id 为空表示该用户全部会话
	s.publishRevoked(ctx, userID, "", reason)
	return nil
}

func (s *Service) publishRevoked(ctx context.Context, userID, sessionID, reason string) {
	if s.conf.Pub == nil {
		return
	}
	_, err := s.conf.Pub.PublishJSON(ctx, userID, event.KindSessionRevoked, map[string]string{
		"session_id": sessionID,
		"reason":     reason,
	})
	if err != nil {
		logger.Warnf("[UserService] publish session revoked user=%s err=%v", userID, err)
	}
}

// ===== 密码 =====

func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return errs.ErrArgs.WrapMsg("password too short")
	}
	var u usermodel.User
	if err := users().FindOne(ctx, bson.M{"user_id": userID}).Decode(&u); err != nil {
		return errs.ErrRecordNotFound.WrapMsg("user not found", "user", userID)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
		return errs.ErrPasswordWrong.Wrap()
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return errs.WrapMsg(err, "hash password")
	}
	_, err = users().UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": bson.M{
		"password_hash": string(hash),
		"update_time":   time.Now(),
	}})
	if err != nil {
		return errs.WrapMsg(err, "update password", "user", userID)
	}
	return nil
}

// RequestPasswordReset 发重置码。查无此人也返回成功, 不暴露注册状态。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	var u usermodel.User
	err := users().FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))}).Decode(&u)
	if err != nil {
		logger.Infof("[UserService] reset requested for unknown email=%s", email)
		return nil
	}
	token := tools.RandToken()
	exp := time.Now().Add(resetTokenTTL)
	_, err = users().UpdateOne(ctx, bson.M{"user_id": u.UserID}, bson.M{"$set": bson.M{
		"reset_token":           token,
		"reset_token_expire_at": exp,
		"update_time":           time.Now(),
	}})
	if err != nil {
		return errs.WrapMsg(err, "store reset token", "user", u.UserID)
	}
	s.sendCodeAsync(u.Email, "Reset your GotMail password", token)
	return nil
}

func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return errs.ErrArgs.WrapMsg("password too short")
	}
	var u usermodel.User
	err := users().FindOne(ctx, bson.M{
		"reset_token":           token,
		"reset_token_expire_at": bson.M{"$gt": time.Now()},
	}).Decode(&u)
	if err != nil {
		return errs.ErrTokenInvalid.WrapMsg("reset token invalid or expired")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return errs.WrapMsg(err, "hash password")
	}
	_, err = users().UpdateOne(ctx, bson.M{"user_id": u.UserID}, bson.M{
		"$set":   bson.M{"password_hash": string(hash), "update_time": time.Now()},
		"$unset": bson.M{"reset_token": "", "reset_token_expire_at": ""},
	})
	if err != nil {
		return errs.WrapMsg(err, "update password", "user", u.UserID)
	}
	// 旧会话全部踢掉
	return s.RevokeAllSessions(ctx, u.UserID, "password-reset")
}

// ===== 手机验证 / 二验开关 =====

func (s *Service) RequestPhoneVerify(ctx context.Context, userID string) error {
	var u usermodel.User
	if err := users().FindOne(ctx, bson.M{"user_id": userID}).Decode(&u); err != nil {
		return errs.ErrRecordNotFound.WrapMsg("user not found", "user", userID)
	}
	code := tools.RandDigits(6)
	exp := time.Now().Add(verifyCodeTTL)
	_, err := users().UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": bson.M{
		"verify_code":           code,
		"verify_code_expire_at": exp,
		"update_time":           time.Now(),
	}})
	if err != nil {
		return errs.WrapMsg(err, "store verify code", "user", userID)
	}
	// 无短信通道, 验证码送系统信箱
	s.sendCodeAsync(u.Email, "Verify your phone number", code)
	return nil
}

func (s *Service) ConfirmPhoneVerify(ctx context.Context, userID, code string) error {
	var u usermodel.User
	if err := users().FindOne(ctx, bson.M{"user_id": userID}).Decode(&u); err != nil {
		return errs.ErrRecordNotFound.WrapMsg("user not found", "user", userID)
	}
	if u.VerifyCode == "" || u.VerifyCode != strings.TrimSpace(code) ||
		u.VerifyCodeExpireAt == nil || time.Now().After(*u.VerifyCodeExpireAt) {
		return errs.ErrVerifyCode.Wrap()
	}
	_, err := users().UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{
		"$set":   bson.M{"phone_verified": true, "update_time": time.Now()},
		"$unset": bson.M{"verify_code": "", "verify_code_expire_at": ""},
	})
	if err != nil {
		return errs.WrapMsg(err, "confirm phone", "user", userID)
	}
	return nil
}

func (s *Service) Set2FA(ctx context.Context, userID string, enabled bool) error {
	_, err := users().UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": bson.M{
		"two_fa_enabled": enabled,
		"update_time":    time.Now(),
	}})
	if err != nil {
		return errs.WrapMsg(err, "set 2fa", "user", userID)
	}
	return nil
}

// ===== 资料 =====

func (s *Service) Profile(ctx context.Context, userID string) (*usermodel.User, error) {
	var u usermodel.User
	if err := users().FindOne(ctx, bson.M{"user_id": userID}).Decode(&u); err != nil {
		return nil, errs.ErrRecordNotFound.WrapMsg("user not found", "user", userID)
	}
	return &u, nil
}

// ProfileByEmail 给投递管线解析收件人用
func (s *Service) ProfileByEmail(ctx context.Context, email string) (*usermodel.User, error) {
	var u usermodel.User
	err := users().FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))}).Decode(&u)
	if err != nil {
		return nil, errs.ErrRecordNotFound.WrapMsg("no such mailbox", "email", email)
	}
	return &u, nil
}

// ResolveAddress 收件地址 → 用户ID, 信箱模块解析收件人的口
func (s *Service) ResolveAddress(ctx context.Context, addr string) (string, error) {
	u, err := s.ProfileByEmail(ctx, addr)
	if err != nil {
		return "", err
	}
	if u.Status != usermodel.UserNormal {
		return "", errs.ErrRecordNotFound.WrapMsg("mailbox closed", "email", addr)
	}
	return u.UserID, nil
}

// AddressOf 用户ID → 收件地址
func (s *Service) AddressOf(ctx context.Context, userID string) (string, error) {
	u, err := s.Profile(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Email, nil
}

type UpdateProfileParams struct {
	Nickname *string `json:"nickname"`
	FaceURL  *string `json:"face_url"`
	Bio      *string `json:"bio"`
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, in UpdateProfileParams) error {
	set := bson.M{"update_time": time.Now()}
	if in.Nickname != nil {
		set["nickname"] = *in.Nickname
	}
	if in.FaceURL != nil {
		set["face_url"] = *in.FaceURL
	}
	if in.Bio != nil {
		set["bio"] = *in.Bio
	}
	_, err := users().UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": set})
	if err != nil {
		return errs.WrapMsg(err, "update profile", "user", userID)
	}
	return nil
}

// ===== 通知 =====

// NotifyUser 写站内通知并即时推送
func (s *Service) NotifyUser(ctx context.Context, userID, message, ntype, relatedEmailID string) error {
	n := &usermodel.Notification{
		NotificationID: ids.GenerateString(),
		UserID:         userID,
		Message:        message,
		Type:           ntype,
		RelatedEmailID: relatedEmailID,
		CreateTime:     time.Now(),
	}
	if _, err := notifications().InsertOne(ctx, n); err != nil {
		return errs.WrapMsg(err, "insert notification", "user", userID)
	}
	if s.conf.Pub != nil {
		_, err := s.conf.Pub.PublishJSON(ctx, userID, event.KindNotification, n)
		if err != nil {
			logger.Warnf("[UserService] notification push degraded user=%s err=%v", userID, err)
		}
	}
	return nil
}

func (s *Service) Notifications(ctx context.Context, userID string, limit, offset int64) ([]usermodel.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	cur, err := notifications().Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "create_time", Value: -1}}).SetLimit(limit).SetSkip(offset))
	if err != nil {
		return nil, errs.WrapMsg(err, "list notifications", "user", userID)
	}
	defer cur.Close(ctx)
	var out []usermodel.Notification
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode notifications", "user", userID)
	}
	return out, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	res, err := notifications().UpdateOne(ctx,
		bson.M{"notification_id": notificationID, "user_id": userID},
		bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return errs.WrapMsg(err, "mark notification", "id", notificationID)
	}
	if res.MatchedCount == 0 {
		return errs.ErrRecordNotFound.WrapMsg("notification not found", "id", notificationID)
	}
	return nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := notifications().UpdateMany(ctx,
		bson.M{"user_id": userID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return 0, errs.WrapMsg(err, "mark all notifications", "user", userID)
	}
	return res.ModifiedCount, nil
}

// ===== 内部 =====

func (s *Service) sendCodeAsync(to, subject, code string) {
	if s.conf.Mailer == nil {
		logger.Infof("[UserService] no mailer, code for %s: %s", to, code)
		return
	}
	safe.SafeGoNamed("send-code", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.conf.Mailer.Send(ctx, to, subject, "Your code: "+code); err != nil {
			logger.Warnf("[UserService] send code to=%s err=%v", to, err)
		}
	})
}
