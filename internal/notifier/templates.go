package notifier

import (
	"fmt"
	"time"

	"upasthiti-notifier/internal/models"
)

// 消息模板按闭合的考勤状态枚举索引，主渠道与备用渠道各自独立维护。
// 占位符顺序固定：学生姓名、打卡/检测时刻、日期、学校名称。

// whatsappTemplates 主渠道（WhatsApp，富文本）模板
var whatsappTemplates = map[models.AttendanceStatus]string{
	models.StatusPresent: "Dear Parent,\n\n*%s* was marked *PRESENT* at %s on %s.\n\n— %s",
	models.StatusLate:    "Dear Parent,\n\n*%s* arrived *LATE* at %s on %s.\n\n— %s",
	models.StatusAbsent:  "Dear Parent,\n\n*%s* has been marked *ABSENT*: no attendance was recorded by %s on %s.\nIf your child is on leave, please inform the school office.\n\n— %s",
	models.StatusLeave:   "Dear Parent,\n\n*%s* is recorded on *LEAVE* as of %s on %s.\n\n— %s",
}

// smsTemplates 备用渠道（SMS，纯文本，更短）模板
var smsTemplates = map[models.AttendanceStatus]string{
	models.StatusPresent: "%s marked PRESENT at %s on %s. -%s",
	models.StatusLate:    "%s arrived LATE at %s on %s. -%s",
	models.StatusAbsent:  "%s marked ABSENT: no attendance by %s on %s. -%s",
	models.StatusLeave:   "%s on LEAVE as of %s on %s. -%s",
}

// ComposeWhatsApp 生成主渠道消息正文，未知状态在边界处拒绝
func ComposeWhatsApp(status models.AttendanceStatus, studentName, displayTime string, date time.Time, tenantName string) (string, error) {
	tmpl, ok := whatsappTemplates[status]
	if !ok {
		return "", fmt.Errorf("no whatsapp template for status %q", status)
	}
	return fmt.Sprintf(tmpl, studentName, displayTime, date.Format("02 Jan 2006"), tenantName), nil
}

// ComposeSMS 生成备用渠道消息正文，未知状态在边界处拒绝
func ComposeSMS(status models.AttendanceStatus, studentName, displayTime string, date time.Time, tenantName string) (string, error) {
	tmpl, ok := smsTemplates[status]
	if !ok {
		return "", fmt.Errorf("no sms template for status %q", status)
	}
	return fmt.Sprintf(tmpl, studentName, displayTime, date.Format("02 Jan 2006"), tenantName), nil
}
