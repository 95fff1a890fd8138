package domain

import (
	"time"

	"github.com/google/uuid"
)

// PostKind — вариант публикации.
type PostKind string

const (
	PostKindText           PostKind = "TEXT"
	PostKindImage          PostKind = "IMAGE"
	PostKindVideo          PostKind = "VIDEO"
	PostKindShortFormVideo PostKind = "SHORT_FORM_VIDEO"
	PostKindStoryImage     PostKind = "STORY_IMAGE"
	PostKindStoryVideo     PostKind = "STORY_VIDEO"
)

// Поля Post.Configs по умолчанию.
const (
	FieldText     = "TEXT"
	FieldCaption  = "CAPTION"
	FieldImageURL = "IMAGE_URL"
	FieldVideoURL = "VIDEO_URL"
)

// Action по умолчанию для каждого варианта.
var defaultActions = map[PostKind]string{
	PostKindText:           "POST_TEXT",
	PostKindImage:          "POST_IMAGE",
	PostKindVideo:          "POST_VIDEO",
	PostKindShortFormVideo: "POST_SHORT_FORM_VIDEO",
	PostKindStoryImage:     "POST_STORIES",
	PostKindStoryVideo:     "POST_STORIES",
}

// IsValid проверяет, что вариант известен.
func (k PostKind) IsValid() bool {
	_, ok := defaultActions[k]
	return ok
}

// DefaultAction возвращает action, которым публикуется этот вариант.
func (k PostKind) DefaultAction() string {
	return defaultActions[k]
}

// MediaField возвращает поле Configs, куда пишется публичный URL медиа.
// Для текстового поста — пустая строка.
func (k PostKind) MediaField() string {
	switch k {
	case PostKindImage, PostKindStoryImage:
		return FieldImageURL
	case PostKindVideo, PostKindShortFormVideo, PostKindStoryVideo:
		return FieldVideoURL
	default:
		return ""
	}
}

// PostContent — содержимое поста, зависящее от варианта.
type PostContent struct {
	// Text — тело текстового поста.
	Text string `json:"text,omitempty"`

	// Caption — подпись к медиа.
	Caption string `json:"caption,omitempty"`

	// MediaPath — локальный путь к загруженному файлу.
	MediaPath string `json:"media_path,omitempty"`

	// MediaURL — публичный URL медиа после загрузки в хранилище.
	MediaURL string `json:"media_url,omitempty"`
}

// PostConfigs — состояние поста по платформам: платформа → поле → значение.
//
// Это "память" между шагами action: шаг 1 может извлечь upload ID,
// а шаг 2 подставить его в свой запрос.
type PostConfigs map[string]map[string]string

// Clone возвращает глубокую копию.
func (c PostConfigs) Clone() PostConfigs {
	out := make(PostConfigs, len(c))
	for platform, fields := range c {
		copied := make(map[string]string, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
		out[platform] = copied
	}
	return out
}

// Platform возвращает копию полей платформы (никогда nil).
func (c PostConfigs) Platform(name string) map[string]string {
	fields := c[name]
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Set записывает значение поля платформы.
func (c PostConfigs) Set(platform, key, value string) {
	fields, ok := c[platform]
	if !ok {
		fields = make(map[string]string)
		c[platform] = fields
	}
	fields[key] = value
}

// Post — публикация, которую нужно разослать на платформы.
type Post struct {
	// ID — уникальный идентификатор поста.
	ID uuid.UUID `json:"id"`

	// OwnerID — владелец поста.
	OwnerID uuid.UUID `json:"owner_id"`

	// Kind — вариант поста.
	Kind PostKind `json:"kind"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// Schedule — время отложенной публикации (nil — без расписания).
	Schedule *time.Time `json:"schedule,omitempty"`

	// DispatchedAt — когда scheduler запустил публикацию по расписанию.
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`

	// InstanceIDs — привязанные PlatformInstance.
	InstanceIDs []uuid.UUID `json:"instance_ids"`

	// Content — содержимое поста.
	Content PostContent `json:"content"`

	// Configs — состояние по платформам.
	// Инициализируется один раз, дальше меняется только загрузкой медиа
	// и извлечёнными из ответов значениями.
	Configs PostConfigs `json:"post_configs"`

	// Version — счётчик для compare-and-swap записи Configs.
	Version int64 `json:"version"`
}

// DefaultFields возвращает поля Configs по умолчанию, заполненные из Content.
func (p *Post) DefaultFields() map[string]string {
	switch p.Kind {
	case PostKindText:
		return map[string]string{FieldText: p.Content.Text}
	case PostKindImage:
		return map[string]string{FieldCaption: p.Content.Caption, FieldImageURL: p.Content.MediaURL}
	case PostKindVideo, PostKindShortFormVideo:
		return map[string]string{FieldCaption: p.Content.Caption, FieldVideoURL: p.Content.MediaURL}
	case PostKindStoryImage:
		return map[string]string{FieldImageURL: p.Content.MediaURL}
	case PostKindStoryVideo:
		return map[string]string{FieldVideoURL: p.Content.MediaURL}
	default:
		return map[string]string{}
	}
}

// InitializeConfigs заполняет Configs полями по умолчанию для каждой платформы.
// Ничего не делает, если Configs уже не пуст. Возвращает true, если заполнил.
func (p *Post) InitializeConfigs(platformNames []string) bool {
	if len(p.Configs) > 0 {
		return false
	}
	if p.Configs == nil {
		p.Configs = make(PostConfigs, len(platformNames))
	}
	for _, name := range platformNames {
		p.Configs[name] = p.DefaultFields()
	}
	return len(platformNames) > 0
}

// IsDue возвращает true, если пост пора опубликовать по расписанию.
func (p *Post) IsDue(now time.Time) bool {
	return p.Schedule != nil && p.DispatchedAt == nil && !p.Schedule.After(now)
}

// MarkDispatched фиксирует запуск публикации по расписанию.
func (p *Post) MarkDispatched(now time.Time) {
	p.DispatchedAt = &now
}
