package dispatch

import (
	"math"
	"strings"

	"github.com/deepmedical/crawl-engine/internal/engine"
)

// Hosts whose discovered links are assumed heavily defended.
var protectedLinkHosts = []string{
	"nejm.org", "thelancet.com", "jamanetwork.com", "bmj.com",
	"pubmed", "nih.gov", "who.int", "cdc.gov", "fda.gov",
}

// Bilingual terms that boost a discovered link's inherited priority.
var linkMedicalTerms = []string{
	"clinical", "临床", "trial", "试验", "randomized", "随机",
	"patient", "患者", "treatment", "治疗", "disease", "疾病",
	"symptom", "症状", "diagnosis", "诊断", "prognosis", "预后",
	"medicine", "医学", "therapy", "疗法", "health", "健康",
	"medical", "医疗", "doctor", "医生", "hospital", "医院",
	"research", "研究", "study", "journal", "期刊",
}

const (
	linkInheritance  = 0.7
	sameDomainBoost  = 1.2
	crossDomainDamp  = 0.8
	medicalTermBoost = 1.5
	depthDecay       = 0.9
)

// deriveLinkTask scores one discovered link against its source task and
// builds the follow-up task. ok is false for links that should be skipped.
func deriveLinkTask(source engine.CrawlTask, link engine.ExtractedLink) (engine.CrawlTask, bool) {
	if !strings.HasPrefix(link.URL, "http://") && !strings.HasPrefix(link.URL, "https://") {
		return engine.CrawlTask{}, false
	}

	sourceHost := hostOf(source.URL)
	linkHost := hostOf(link.URL)
	if linkHost == "" {
		return engine.CrawlTask{}, false
	}

	priority := source.Priority * linkInheritance
	if linkHost == sourceHost {
		priority *= sameDomainBoost
	} else {
		priority *= crossDomainDamp
	}
	if hasMedicalTerm(link) {
		priority *= medicalTermBoost
	}
	priority *= math.Pow(depthDecay, float64(source.Depth+1))

	return engine.CrawlTask{
		URL:        link.URL,
		Priority:   priority,
		Protection: linkProtection(linkHost, sourceHost),
		Depth:      source.Depth + 1,
		Referrer:   source.URL,
		Metadata: map[string]string{
			"title":      link.Text,
			"source_url": source.URL,
		},
	}, true
}

func hasMedicalTerm(link engine.ExtractedLink) bool {
	text := strings.ToLower(link.URL + " " + link.Text + " " + link.Context)
	for _, term := range linkMedicalTerms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

func linkProtection(linkHost, sourceHost string) engine.ProtectionLevel {
	for _, protected := range protectedLinkHosts {
		if strings.Contains(linkHost, protected) {
			return engine.ProtectionHigh
		}
	}
	if linkHost == sourceHost {
		return engine.ProtectionMedium
	}
	return engine.ProtectionLow
}
