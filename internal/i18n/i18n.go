// Package i18n picks the workspace language and localizes the small
// set of user-visible messages. The detector is constructed once at
// startup and passed to whoever renders text; there is no package-level
// current-language state.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
)

// Supported lists the languages with a translated catalog. The first
// entry is the fallback.
var Supported = []language.Tag{
	language.English,
	language.Korean,
	language.Vietnamese,
}

// Detector matches caller preferences against Supported.
type Detector struct {
	matcher language.Matcher
}

func NewDetector() *Detector {
	return &Detector{matcher: language.NewMatcher(Supported)}
}

// Locale is one resolved language choice.
type Locale struct {
	Tag   language.Tag
	index int
}

// Localize resolves the best supported language for prefs, which may
// be BCP 47 tags or Accept-Language lists. Empty or unknown prefs fall
// back to English.
func (d *Detector) Localize(prefs ...string) Locale {
	cleaned := prefs[:0:0]
	for _, p := range prefs {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	_, index := language.MatchStrings(d.matcher, cleaned...)
	return Locale{Tag: Supported[index], index: index}
}

// Message returns the localized text for key, falling back to English,
// then to the key itself for unknown keys.
func (l Locale) Message(key string) string {
	msgs, ok := messages[key]
	if !ok {
		return key
	}
	if l.index < len(msgs) && msgs[l.index] != "" {
		return msgs[l.index]
	}
	return msgs[0]
}

// NormalizeEnvLang converts POSIX locale strings like "vi_VN.UTF-8"
// into BCP 47 form. Empty input stays empty.
func NormalizeEnvLang(s string) string {
	s, _, _ = strings.Cut(s, ".")
	s, _, _ = strings.Cut(s, "@")
	s = strings.ReplaceAll(s, "_", "-")
	if s == "C" || s == "POSIX" {
		return ""
	}
	return s
}

// messages holds one entry per Supported tag, English first.
var messages = map[string][]string{
	"source.fetch_failed": {
		"Could not load the shared scene. Starting from your local data.",
		"공유된 장면을 불러오지 못했습니다. 로컬 데이터로 시작합니다.",
		"Không thể tải cảnh được chia sẻ. Bắt đầu từ dữ liệu cục bộ.",
	},
	"source.invalid_scene": {
		"The shared scene file is invalid and was ignored.",
		"공유된 장면 파일이 유효하지 않아 무시되었습니다.",
		"Tệp cảnh được chia sẻ không hợp lệ và đã bị bỏ qua.",
	},
	"prompt.replace_scene": {
		"Replace your current scene with the shared one? Your local scene will be overwritten.",
		"현재 장면을 공유된 장면으로 교체할까요? 로컬 장면을 덮어씁니다.",
		"Thay cảnh hiện tại bằng cảnh được chia sẻ? Cảnh cục bộ sẽ bị ghi đè.",
	},
	"persist.save_failing": {
		"Recent changes could not be saved. They will be retried automatically.",
		"최근 변경 사항을 저장하지 못했습니다. 자동으로 다시 시도합니다.",
		"Không thể lưu các thay đổi gần đây. Hệ thống sẽ tự động thử lại.",
	},
	"collab.disconnected": {
		"Disconnected from the session. Your work continues locally.",
		"세션 연결이 끊어졌습니다. 작업은 로컬에서 계속됩니다.",
		"Mất kết nối với phiên làm việc. Công việc của bạn vẫn tiếp tục cục bộ.",
	},
	"assets.unresolved": {
		"Some images are still being saved. Leaving now may lose them.",
		"일부 이미지가 아직 저장 중입니다. 지금 나가면 잃을 수 있습니다.",
		"Một số hình ảnh vẫn đang được lưu. Rời đi bây giờ có thể làm mất chúng.",
	},
}
