package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"realtime-chat/internal/storage/zapadapter"
)

var (
	ErrUserExists        = errors.New("user already exists")
	ErrUserNotExist      = errors.New("user does not exist")
	ErrChatExists        = errors.New("chat already exists")
	ErrChatBadUsers      = errors.New("bad users list")
	ErrChatNotExist      = errors.New("chat does not exist")
	ErrUserNotChatMember = errors.New("user is not a chat member")
	ErrMessageNotExist   = errors.New("message does not exist")
	ErrMessageNotOwned   = errors.New("message is not owned by user")
)

//go:embed schema.sql
var schema string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// live is the soft-delete predicate every default read goes through
func live(alias string) string {
	return alias + ".deleted_at is null"
}

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())
	config.ConnConfig.LogLevel = pgx.LogLevelWarn

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Migrate creates missing tables and indexes
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

// Close closes all pool connections
func (s *Store) Close() {
	s.db.Close()
}

// CreateUser creates user and returns its id.
func (s *Store) CreateUser(ctx context.Context, username string) (int64, error) {
	s.logger.Debugf("Creating user (%s)", username)

	var id int64
	sql := "insert into users (username, created_at) values ($1, $2) returning id"
	err := s.db.QueryRow(ctx, sql, username, time.Now()).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.UniqueViolation {
				return 0, ErrUserExists
			}
		}
		return 0, err
	}

	s.logger.Debugf("Created user (%s) with id %d", username, id)

	return id, nil
}

// CreateBlock records that blocker blocks blocked, repeated calls are no-ops
func (s *Store) CreateBlock(ctx context.Context, blocker, blocked int64) error {
	sql := "insert into blocks (blocker_id, blocked_id) values ($1, $2) on conflict do nothing"
	_, err := s.db.Exec(ctx, sql, blocker, blocked)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrUserNotExist
		}
		return err
	}
	return nil
}

// IsBlocked reports whether a block exists between two users in either direction
func (s *Store) IsBlocked(ctx context.Context, a, b int64) (bool, error) {
	var blocked bool
	sql := `select exists (
				select 1
				  from blocks
				 where (blocker_id = $1 and blocked_id = $2)
				    or (blocker_id = $2 and blocked_id = $1)
			)`
	err := s.db.QueryRow(ctx, sql, a, b).Scan(&blocked)
	return blocked, err
}

// pair normalizes an unordered user pair
func pair(a, b int64) (low, high int64) {
	if a < b {
		return a, b
	}
	return b, a
}

var sqlFindPrivateChat = `select c.id
							from chats c
						   where c.kind = 'PRIVATE'
							 and c.pair_low = $1
							 and c.pair_high = $2
							 and ` + live("c")

// FindPrivateChat returns the live private chat between two users regardless of who created it
func (s *Store) FindPrivateChat(ctx context.Context, a, b int64) (Chat, error) {
	low, high := pair(a, b)

	var id int64
	err := s.db.QueryRow(ctx, sqlFindPrivateChat, low, high).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Chat{}, ErrChatNotExist
		}
		return Chat{}, err
	}

	return s.ChatByID(ctx, id)
}

// CreatePrivateChat performs a transaction creating the chat record, both participants and,
// when initial is not nil, the first message. The partial unique index over the normalized
// pair rejects a second live private chat with ErrChatExists.
func (s *Store) CreatePrivateChat(ctx context.Context, creator, peer int64, initial *NewMessage) (Chat, *Message, error) {
	s.logger.Debugf("Creating private chat between users (%d, %d)", creator, peer)

	low, high := pair(creator, peer)
	return s.createChat(ctx, ChatPrivate, nil, creator, []int64{creator, peer}, &low, &high, initial)
}

// CreateGroupChat creates a group chat with the given members, creator included
func (s *Store) CreateGroupChat(ctx context.Context, creator int64, name *string, members []int64) (Chat, error) {
	s.logger.Debugf("Creating group chat by user (%d) with users (%v)", creator, members)

	chat, _, err := s.createChat(ctx, ChatGroup, name, creator, members, nil, nil, nil)
	return chat, err
}

func (s *Store) createChat(
	ctx context.Context,
	kind ChatKind,
	name *string,
	creator int64,
	members []int64,
	low, high *int64,
	initial *NewMessage,
) (Chat, *Message, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Chat{}, nil, err
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions or any source comment on Rollback
	defer tx.Rollback(context.Background())

	chat := Chat{
		Kind:    kind,
		Name:    name,
		Creator: creator,
	}

	sql := `insert into chats (kind, name, creator_id, pair_low, pair_high, created_at)
			values ($1, $2, $3, $4, $5, $6)
			returning id, created_at`
	err = tx.QueryRow(ctx, sql, string(kind), name, creator, low, high, time.Now()).Scan(&chat.ID, &chat.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return Chat{}, nil, ErrChatExists
			case pgerrcode.ForeignKeyViolation:
				return Chat{}, nil, ErrUserNotExist
			default:
				return Chat{}, nil, err
			}
		}
		return Chat{}, nil, err
	}

	rows := participantRows(chat.ID, members, chat.CreatedAt)
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"chat_participants"}, participantColumns, copyFromBulk(rows))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.ForeignKeyViolation, pgerrcode.UniqueViolation:
				return Chat{}, nil, ErrChatBadUsers
			default:
				return Chat{}, nil, err
			}
		}
		return Chat{}, nil, err
	}

	for _, r := range rows {
		chat.Participants = append(chat.Participants, Participant{Chat: r.chatID, User: r.userID, JoinedAt: r.joinedAt})
	}

	var first *Message
	if initial != nil {
		m := *initial
		m.Chat = chat.ID
		msg, err := insertMessage(ctx, tx, m)
		if err != nil {
			return Chat{}, nil, err
		}
		first = &msg
	}

	err = tx.Commit(ctx)
	if err != nil {
		return Chat{}, nil, err
	}

	s.logger.Debugf("Created %s chat with id %d", kind, chat.ID)

	return chat, first, nil
}

var sqlChatByID = `select c.id, c.kind, c.name, c.creator_id, c.created_at
					 from chats c
					where c.id = $1
					  and ` + live("c")

// ChatByID returns the live chat with its participants ordered by join time
func (s *Store) ChatByID(ctx context.Context, id int64) (Chat, error) {
	var c Chat
	var kind string
	err := s.db.QueryRow(ctx, sqlChatByID, id).Scan(&c.ID, &kind, &c.Name, &c.Creator, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Chat{}, ErrChatNotExist
		}
		return Chat{}, err
	}
	c.Kind = ChatKind(kind)

	sql := `select chat_id, user_id, joined_at
			  from chat_participants
			 where chat_id = $1
			 order by joined_at, user_id`
	rows, err := s.db.Query(ctx, sql, id)
	if err != nil {
		return Chat{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.Chat, &p.User, &p.JoinedAt); err != nil {
			return Chat{}, err
		}
		c.Participants = append(c.Participants, p)
	}

	if rows.Err() != nil {
		return Chat{}, rows.Err()
	}

	return c, nil
}

func kindsToStrings(kinds []MessageKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func kindsFromArray(arr pgtype.TextArray) ([]MessageKind, error) {
	var raw []string
	if err := arr.AssignTo(&raw); err != nil {
		return nil, err
	}
	kinds := make([]MessageKind, len(raw))
	for i, k := range raw {
		kinds[i] = MessageKind(k)
	}
	return kinds, nil
}

// the membership predicate makes a write from a non participant insert nothing
var sqlInsertMessage = `insert into messages (chat_id, sender_id, body, kinds, shared_post_id, shared_story_id,
											  shared_reel_id, shared_user_id, media_id, created_at)
						select $1::bigint, $2::bigint, $3::text, $4::text[], $5::bigint, $6::bigint,
							   $7::bigint, $8::bigint, $9::bigint, clock_timestamp()
						 where exists (
								select 1
								  from chat_participants p
								  join chats c
									on c.id = p.chat_id
								 where p.chat_id = $1
								   and p.user_id = $2
								   and ` + live("c") + `
						 )
						returning id, created_at`

func insertMessage(ctx context.Context, q querier, m NewMessage) (Message, error) {
	msg := Message{
		Chat:        m.Chat,
		Sender:      m.Sender,
		Body:        m.Body,
		Kinds:       m.Kinds,
		SharedPost:  m.SharedPost,
		SharedStory: m.SharedStory,
		SharedReel:  m.SharedReel,
		SharedUser:  m.SharedUser,
		Media:       m.Media,
	}

	err := q.QueryRow(ctx, sqlInsertMessage,
		m.Chat, m.Sender, m.Body, kindsToStrings(m.Kinds),
		m.SharedPost, m.SharedStory, m.SharedReel, m.SharedUser, m.Media,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrUserNotChatMember
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.ForeignKeyViolation:
				switch pgErr.ConstraintName {
				case "messages_chat_id_fkey":
					return Message{}, ErrChatNotExist
				case "messages_sender_id_fkey":
					return Message{}, ErrUserNotExist
				default:
					return Message{}, err
				}
			}
		}
		return Message{}, err
	}

	return msg, nil
}

// CreateMessage creates new message in database and returns it
func (s *Store) CreateMessage(ctx context.Context, m NewMessage) (Message, error) {
	s.logger.Debugf("Creating message from user (id: %d) in chat (id: %d)", m.Sender, m.Chat)

	return insertMessage(ctx, s.db, m)
}

const messageColumns = `m.id, m.chat_id, m.sender_id, m.body, m.kinds, m.shared_post_id, m.shared_story_id,
						m.shared_reel_id, m.shared_user_id, m.media_id, m.created_at, m.deleted_at`

type messageScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row messageScanner, extra ...interface{}) (Message, error) {
	var m Message
	var kinds pgtype.TextArray
	dest := append([]interface{}{
		&m.ID, &m.Chat, &m.Sender, &m.Body, &kinds, &m.SharedPost, &m.SharedStory,
		&m.SharedReel, &m.SharedUser, &m.Media, &m.CreatedAt, &m.DeletedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Message{}, err
	}

	k, err := kindsFromArray(kinds)
	if err != nil {
		return Message{}, err
	}
	m.Kinds = k

	return m, nil
}

var sqlMessagesByChatID = `select ` + messageColumns + `,
								  u.username, u.avatar_url,
								  p.id, p.caption, p.thumbnail_url,
								  st.id, st.media_url,
								  r.id, r.caption, r.thumbnail_url,
								  su.id, su.username, su.avatar_url
							 from messages m
							 join users u
							   on u.id = m.sender_id
							 left join posts p
							   on p.id = m.shared_post_id and ` + live("p") + `
							 left join stories st
							   on st.id = m.shared_story_id and ` + live("st") + `
							 left join reels r
							   on r.id = m.shared_reel_id and ` + live("r") + `
							 left join users su
							   on su.id = m.shared_user_id
							where m.chat_id = $1
							  and (not $2::boolean or ` + live("m") + `)
							order by m.created_at desc, m.id desc`

// MessagesByChatID returns chat messages enriched with sender and shared content summaries,
// sorted by message creation time (from latest to earliest)
func (s *Store) MessagesByChatID(ctx context.Context, chat int64, excludeDeleted bool) ([]Message, error) {
	s.logger.Debugf("Retrieving messages for chat (id: %d)", chat)

	// check if chat exists
	var i int8
	sql := "select 1 from chats c where c.id = $1 and " + live("c")
	err := s.db.QueryRow(ctx, sql, chat).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChatNotExist
		}
		return nil, err
	}

	rows, err := s.db.Query(ctx, sqlMessagesByChatID, chat, excludeDeleted)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			sender                     UserSummary
			postID, storyID, reelID    *int64
			postCaption, postThumb     *string
			storyMedia                 *string
			reelCaption, reelThumb     *string
			sharedUserID               *int64
			sharedUsername, sharedAvtr *string
		)
		m, err := scanMessage(rows,
			&sender.Username, &sender.AvatarURL,
			&postID, &postCaption, &postThumb,
			&storyID, &storyMedia,
			&reelID, &reelCaption, &reelThumb,
			&sharedUserID, &sharedUsername, &sharedAvtr,
		)
		if err != nil {
			return nil, err
		}

		sender.ID = m.Sender
		m.SenderInfo = &sender
		if postID != nil {
			m.Post = &PostSummary{ID: *postID, Caption: postCaption, ThumbnailURL: postThumb}
		}
		if storyID != nil {
			m.Story = &StorySummary{ID: *storyID, MediaURL: storyMedia}
		}
		if reelID != nil {
			m.Reel = &ReelSummary{ID: *reelID, Caption: reelCaption, ThumbnailURL: reelThumb}
		}
		if sharedUserID != nil && sharedUsername != nil {
			m.User = &UserSummary{ID: *sharedUserID, Username: *sharedUsername, AvatarURL: sharedAvtr}
		}

		messages = append(messages, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}

var sqlSoftDeleteMessage = `update messages m
							   set deleted_at = now()
							 where m.id = $1
							   and m.chat_id = $2
							   and m.sender_id = $3
							   and ` + live("m") + `
						 returning ` + messageColumns

// SoftDeleteMessage marks the message deleted only when id, chat and sender jointly match a live row
func (s *Store) SoftDeleteMessage(ctx context.Context, id, chat, sender int64) (Message, error) {
	s.logger.Debugf("Deleting message (id: %d) in chat (id: %d) by user (id: %d)", id, chat, sender)

	m, err := scanMessage(s.db.QueryRow(ctx, sqlSoftDeleteMessage, id, chat, sender))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Message{}, err
	}

	// nothing was updated, tell a foreign message apart from a missing one
	var owner int64
	sql := "select m.sender_id from messages m where m.id = $1 and m.chat_id = $2 and " + live("m")
	err = s.db.QueryRow(ctx, sql, id, chat).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotExist
		}
		return Message{}, err
	}

	return Message{}, ErrMessageNotOwned
}

var sqlChatsByUserID = `select c.id,
							   c.kind,
							   c.name,
							   coalesce((
									select jsonb_agg(jsonb_build_object('id', u.id, 'username', u.username,
																		'avatar_url', u.avatar_url) order by u.id)
									  from chat_participants p
									  join users u
										on u.id = p.user_id
									 where p.chat_id = c.id
									   and p.user_id <> $1
							   ), '[]'::jsonb) as peers,
							   recent.body,
							   recent.created_at
						  from chats c
						  join chat_participants me
							on me.chat_id = c.id
						   and me.user_id = $1
						  left join lateral (
								select m.body, m.created_at
								  from messages m
								 where m.chat_id = c.id
								   and ` + live("m") + `
								 order by m.created_at desc, m.id desc
								 limit 1
						  ) recent on true
						 where ` + live("c") + `
						 order by recent.created_at desc nulls last, c.id desc`

// ChatsByUserID returns a summary of every chat the user participates in with its newest live message,
// sorted by the time of that message (from latest to oldest, chats without messages last)
func (s *Store) ChatsByUserID(ctx context.Context, user int64) ([]ChatSummary, error) {
	s.logger.Debugf("Retrieving chats for user (id: %d)", user)

	// check if user exists
	var i int8
	sql := "select 1 from users where id = $1"
	err := s.db.QueryRow(ctx, sql, user).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotExist
		}
		return nil, err
	}

	rows, err := s.db.Query(ctx, sqlChatsByUserID, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []ChatSummary{}
	for rows.Next() {
		var (
			c     ChatSummary
			kind  string
			peers []byte
		)
		err = rows.Scan(&c.ID, &kind, &c.Name, &peers, &c.Recent.Text, &c.Recent.Time)
		if err != nil {
			return nil, err
		}
		c.Kind = ChatKind(kind)

		if err := json.Unmarshal(peers, &c.Peers); err != nil {
			return nil, err
		}

		chats = append(chats, c)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d chats", len(chats))

	return chats, nil
}
