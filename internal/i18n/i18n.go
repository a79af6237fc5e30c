// Package i18n holds the user-facing string catalogs. Messages are keyed by
// stable identifiers; the active language is chosen once at startup.
package i18n

import "fmt"

// Supported languages.
const (
	LangEN = "en"
	LangZH = "zh-CN"
)

var catalogs = map[string]map[string]string{
	LangEN: {
		"queue.position":        "Task queued at position %d.",
		"queue.paused.confirm":  "⏸️ waiting for confirmation, will auto-resume",
		"queue.paused.stopped":  "⏹️ stopped; /reset required",
		"queue.current":         "Current: %s",
		"queue.pending.header":  "Pending:",
		"queue.pending.more":    "… and %d more",
		"agent.not_initialized": "agent not initialized",
		"interaction.resolved":  "Selection received: %s",
		"interaction.invalid":   "Invalid selection %q. Valid ids: %s, or an index between 0 and %d.",
		"interaction.none":      "No pending interaction for this session.",
		"repo.switched":         "Working directory switched to %s (%s). New tasks will run there.",
		"repo.unknown":          "Unknown repository %q. Use /repo to list.",
		"repo.list.header":      "Repositories:",
		"session.reset":         "Session reset: cancelled current task=%v, cleared %d queued, rejected %d interactions.",
		"session.none":          "No active session for this conversation.",
		"stop.all":              "Stopped: current task cancelled, %d queued cleared. Session requires /reset to resume.",
		"stop.current":          "Current task cancelled.",
		"stop.removed":          "Removed queued task %s.",
		"stop.unknown_task":     "No queued task with id %s.",
		"mode.switched":         "Mode switched to %s.",
		"model.switched":        "Model switched to %s.",
		"select.mode.title":     "Select a mode",
		"select.model.title":    "Select a model",
		"select.repo.title":     "Select a repository",
		"help":                  "Commands:\n/repo [id] — list repositories or switch working directory\n/current — session status\n/stop [id|all] — cancel current, remove a queued task, or stop everything\n/reset, /new — destroy the session and start fresh\n/mode [name] — switch agent mode\n/model [name] — switch agent model\n/help — this message\nReplies to selections accept the option number (0-based, as shown) or the option name.",
	},
	LangZH: {
		"queue.position":        "任务已加入队列，位置 %d。",
		"queue.paused.confirm":  "⏸️ 等待确认，确认后自动继续",
		"queue.paused.stopped":  "⏹️ 已停止；需要 /reset",
		"queue.current":         "当前任务：%s",
		"queue.pending.header":  "等待中：",
		"queue.pending.more":    "… 还有 %d 个",
		"agent.not_initialized": "智能体尚未初始化",
		"interaction.resolved":  "已收到选择：%s",
		"interaction.invalid":   "无效选择 %q。有效选项：%s，或 0 到 %d 之间的序号。",
		"interaction.none":      "当前会话没有待处理的交互。",
		"repo.switched":         "工作目录已切换到 %s（%s）。新任务将在该目录执行。",
		"repo.unknown":          "未知仓库 %q。使用 /repo 查看列表。",
		"repo.list.header":      "仓库列表：",
		"session.reset":         "会话已重置：取消当前任务=%v，清除 %d 个排队任务，拒绝 %d 个交互。",
		"session.none":          "当前对话没有活动会话。",
		"stop.all":              "已停止：当前任务已取消，清除 %d 个排队任务。需要 /reset 才能继续。",
		"stop.current":          "当前任务已取消。",
		"stop.removed":          "已移除排队任务 %s。",
		"stop.unknown_task":     "没有 id 为 %s 的排队任务。",
		"mode.switched":         "模式已切换为 %s。",
		"model.switched":        "模型已切换为 %s。",
		"select.mode.title":     "选择模式",
		"select.model.title":    "选择模型",
		"select.repo.title":     "选择仓库",
		"help":                  "命令：\n/repo [id] — 列出仓库或切换工作目录\n/current — 会话状态\n/stop [id|all] — 取消当前任务、移除排队任务或全部停止\n/reset、/new — 销毁会话并重新开始\n/mode [name] — 切换智能体模式\n/model [name] — 切换模型\n/help — 本帮助\n回复选择时可输入选项序号（从 0 开始，与列表一致）或选项名称。",
	},
}

var active = LangEN

// SetLanguage selects the active catalog. Unknown languages fall back to
// English.
func SetLanguage(lang string) {
	if _, ok := catalogs[lang]; ok {
		active = lang
	} else {
		active = LangEN
	}
}

// T formats the message for key in the active language. Missing keys fall
// back to English, then to the key itself.
func T(key string, args ...interface{}) string {
	msg, ok := catalogs[active][key]
	if !ok {
		msg, ok = catalogs[LangEN][key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}
