// Package prompt holds the static system-prompt templates for every oracle
// task. Selection is deterministic: a (task, component type) pair either
// maps to exactly one template or fails with ErrNoPrompt.
package prompt

import (
	"errors"
	"fmt"

	"github.com/hydrofind/hydrofind/task"
)

// ErrNoPrompt is returned when no template is registered for a requested
// task/component-type pair.
var ErrNoPrompt = errors.New("no prompt registered")

// Task names a preprocessing prompt.
type Task string

const (
	TaskClassify Task = "classify"
	TaskQuantity Task = "quantity"
	TaskSplit    Task = "split"
)

const (
	roleExtractor    = "Ты специалист по гидравлическим компонентам."
	rolePreprocessor = "Ты ассистент по обработке технических текстов."

	jsonInstruction = "Верни результат В СТРОГОМ ФОРМАТЕ JSON.\n" +
		"Не включай пояснений, комментариев или дополнительного текста."

	extractionRules = "ПРАВИЛА:\n" +
		"1. Извлекай ТОЛЬКО явно указанные параметры\n" +
		"2. Не придумывай отсутствующие поля\n" +
		"3. Используй null для пропущенных значений\n" +
		"4. Соблюдай типы: boolean, integer, string"

	preprocessingRules = "ПРАВИЛА:\n" +
		"1. Сохраняй оригинальное написание компонентов\n" +
		"2. Не добавляй пояснений\n" +
		"3. Строго следуй формату вывода"
)

func extractorPrompt(spec string) string {
	return roleExtractor + " " + spec + "\n\n" + jsonInstruction + "\n\n" + extractionRules
}

func preprocessorPrompt(spec string) string {
	return rolePreprocessor + " " + spec + "\n\n" + preprocessingRules
}

// componentPrompts maps each searchable component type to its parameter
// extraction prompt.
var componentPrompts = map[task.ComponentType]string{
	task.TypeFittings: extractorPrompt(`Проанализируй запрос и извлеки параметры фитинга.

ПОЛЯ:
- standard: строка (DKOL, DKOS, NPTF, BSP, JIC и т.д.)
- Dy: целое число
- thread: строка
- armature: "штуцер", "штуцер конусный", "гайка"
- angle: целое число (0, 45, 90)
- seria: "легкая", "тяжелая", "interlock"
- D_out: целое число (только если указано)
- usit: boolean
- o_ring: boolean
- counter_nut: boolean
- s_key: строка (только если указан)`),

	task.TypeAdapters: extractorPrompt(`Проанализируй запрос и извлеки параметры адаптера.

ПОЛЯ:
- standard_1, standard_2: строки
- thread_1, thread_2: строки
- armature_1, armature_2: "штуцер", "штуцер конусный", "гайка" (только если указано)
- angle: целое число
- s_key: строка (только если указан)`),

	task.TypePlugs: extractorPrompt(`Проанализируй запрос и извлеки параметры заглушки.

ПОЛЯ:
- standard: строка
- thread_type: "метрическая" или "дюймовая"
- thread: строка
- armature: "штуцер" или "гайка" (только если указано)
- s_key: строка (только если указан)`),

	task.TypeAdapterTee: extractorPrompt(`Проанализируй запрос и извлеки параметры адаптера-тройника.

ПОЛЯ:
- standard_1, standard_2, standard_3: строки
- thread_1, thread_2, thread_3: строки
- armature_1, armature_2, armature_3: "гайка", "штуцер", "штуцер конусный" (только если указано)`),

	task.TypeBanjo: extractorPrompt(`Проанализируй запрос и извлеки параметры банджо.

ПОЛЯ:
- standard: строка
- thread: строка
- Dy: целое число
- angle: целое число`),

	task.TypeBanjoBolt: extractorPrompt(`Проанализируй запрос и извлеки параметры болта банджо.

ПОЛЯ:
- standard: строка
- thread: строка
- s_key: строка (только если указан)`),

	task.TypeBRS: extractorPrompt(`Проанализируй запрос и извлеки параметры быстроразъёмного соединения (БРС).

ПОЛЯ:
- standard: строка
- thread: строка
- Dy: целое число
- armature: "штуцер" или "гайка" (только если указано)`),

	task.TypeCoupling: extractorPrompt(`Проанализируй запрос и извлеки параметры муфты.

ПОЛЯ:
- standard: строка
- thread: строка
- Dy: целое число
- seria: "легкая", "тяжелая", "interlock" (только если указано)`),
}

// preprocessingPrompts maps non-JSON oracle tasks to their templates.
var preprocessingPrompts = map[Task]string{
	TaskClassify: preprocessorPrompt(`Проанализируй ввод и верни ОДНО из значений:

- fittings
- adapters
- plugs
- adapter-tee
- banjo
- banjo-bolt
- brs
- coupling

ПРАВИЛА:
1. Возвращай ТОЛЬКО одно значение из списка выше
2. Не добавляй пояснений, описаний или дополнительного текста
3. Если тип не определяется — возвращай "unknown"`),

	TaskQuantity: preprocessorPrompt(`Извлеки количество компонентов из строки.
Верни ТОЛЬКО первое число или "Не указано", если цифр нет.`),

	TaskSplit: preprocessorPrompt(`Тебе предоставлена одна строка с перечнем компонентов.
Разбей её на отдельные строки — по одному компоненту на строку.
Каждая строка должна содержать полное описание компонента и количество (если есть).

Пример:
Ввод: "Муфта... - 100шт Прокладка... - 200шт"
Вывод:
Муфта... - 100шт
Прокладка... - 200шт`),
}

// ForComponent returns the extraction prompt for a component type.
func ForComponent(ct task.ComponentType) (string, error) {
	p, ok := componentPrompts[ct]
	if !ok {
		return "", fmt.Errorf("%w for component type %q", ErrNoPrompt, ct)
	}
	return p, nil
}

// ForTask returns the preprocessing prompt for an oracle task.
func ForTask(t Task) (string, error) {
	p, ok := preprocessingPrompts[t]
	if !ok {
		return "", fmt.Errorf("%w for task %q", ErrNoPrompt, t)
	}
	return p, nil
}
