package dispatch

import (
	"strings"

	"github.com/deepmedical/crawl-engine/internal/engine"
)

// highValuePriority marks tasks worth the rendering agent regardless of
// protection level.
const highValuePriority = 75.0

// Bilingual terms that flag a task as high-value medical content.
var highValueTerms = []string{
	"clinical trial", "临床试验",
	"randomized", "随机对照",
	"patient data", "患者数据",
	"medical record", "医疗记录",
	"treatment protocol", "治疗方案",
	"case study", "病例研究",
	"symptom", "症状",
	"diagnosis", "诊断",
	"prognosis", "预后",
}

// selectStrategy decides how a task is fetched. Heavily protected or
// high-value pages get the full rendering treatment; everything else goes
// through the static agent.
func selectStrategy(task engine.CrawlTask, headlessAvailable bool) engine.Strategy {
	strategy := engine.Strategy{
		ExtractMetadata: true,
		ExtractLinks:    true,
	}
	if !headlessAvailable {
		return strategy
	}
	if task.Protection == engine.ProtectionHigh || isHighValue(task) {
		strategy.RenderJS = true
		strategy.WaitForFullLoad = true
		strategy.EmulateUserInteraction = true
	}
	return strategy
}

// isHighValue reports whether the task's priority or its metadata text
// marks it as high-value medical content.
func isHighValue(task engine.CrawlTask) bool {
	if task.Priority >= highValuePriority {
		return true
	}
	combined := strings.ToLower(
		task.Metadata["title"] + " " + task.Metadata["description"] + " " + task.URL)
	for _, term := range highValueTerms {
		if strings.Contains(combined, term) {
			return true
		}
	}
	return false
}
