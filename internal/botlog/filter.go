package botlog

import "strings"

// MaxEntryBytes — потолок длины одной записи. Трейсбеки бывают на
// десятки килобайт, в журнале нужна только голова.
const MaxEntryBytes = 500

var errorMarkers = []string{"ERROR", "CRITICAL", "TRACEBACK", "EXCEPTION"}

var benignMarkers = []string{"INFO", "DEBUG", "HTTP REQUEST"}

// IsRealError классифицирует строку stderr бота.
//
// Python-рантаймы льют в stderr вперемешку и ошибки, и обычный вывод
// логгеров. Правило закрытого мира: строка считается ошибкой, если несёт
// явный маркер ошибки, либо если она НЕ похожа ни на один известный
// безобидный формат. Неизвестное подозрительно по умолчанию.
func IsRealError(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	upper := strings.ToUpper(trimmed)

	for _, m := range errorMarkers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	for _, m := range benignMarkers {
		if strings.Contains(upper, m) {
			return false
		}
	}
	return true
}

// Truncate обрезает запись до MaxEntryBytes, не разрывая utf-8 руну.
func Truncate(line string) string {
	if len(line) <= MaxEntryBytes {
		return line
	}
	cut := MaxEntryBytes
	for cut > 0 && line[cut]&0xC0 == 0x80 {
		cut--
	}
	return line[:cut]
}
