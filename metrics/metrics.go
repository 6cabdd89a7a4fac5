package metrics

import (
	"os"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var channelsToMonitor = map[uuid.UUID]bool{}
var monitorAllChannels = os.Getenv("WABRIDGE_PROMETHEUS_MONITOR_ALL_CHANNELS") == "true"

func init() {
	channelsString := os.Getenv("WABRIDGE_PROMETHEUS_MONITOR_CHANNELS")
	if channelsString != "" {
		channels := strings.Split(channelsString, ",")
		for _, channel := range channels {
			channelUUID := uuid.FromStringOrNil(channel)
			if channelUUID == uuid.Nil {
				logrus.Errorf("Invalid channel UUID %s", channel)
				continue
			}
			channelsToMonitor[channelUUID] = true
		}
	}

	logrus.WithField("channels", channelsToMonitor).Info("prometheus channels to monitor")
}

var summaryObjectives = map[float64]float64{
	0.5:  0.05,  // 50th percentile with a max. absolute error of 0.05.
	0.90: 0.01,  // 90th percentile with a max. absolute error of 0.01.
	0.95: 0.005, // 95th percentile with a max. absolute error of 0.005.
	0.99: 0.001, // 99th percentile with a max. absolute error of 0.001.
}

var dispatch_success_by_template = promauto.NewSummaryVec(prometheus.SummaryOpts{
	Name:       "wb_dispatch_success",
	Help:       "The processing duration (milliseconds) of template messages dispatched successfully by template name",
	Objectives: summaryObjectives,
}, []string{"template"})

var dispatch_error_by_template = promauto.NewSummaryVec(prometheus.SummaryOpts{
	Name:       "wb_dispatch_error",
	Help:       "The processing duration (milliseconds) of template messages that failed to dispatch by template name",
	Objectives: summaryObjectives,
}, []string{"template"})

var dispatch_success_by_channel = promauto.NewSummaryVec(prometheus.SummaryOpts{
	Name:       "wb_dispatch_success_channel",
	Help:       "The processing duration (milliseconds) of template messages dispatched successfully by channel registration id",
	Objectives: summaryObjectives,
}, []string{"channel_registration_id"})

var dispatch_error_by_channel = promauto.NewSummaryVec(prometheus.SummaryOpts{
	Name:       "wb_dispatch_error_channel",
	Help:       "The processing duration (milliseconds) of template messages that failed to dispatch by channel registration id",
	Objectives: summaryObjectives,
}, []string{"channel_registration_id"})

var forward_success_by_definition = promauto.NewSummaryVec(prometheus.SummaryOpts{
	Name:       "wb_forward_success",
	Help:       "The processing duration (milliseconds) of CRM events forwarded successfully by channel definition id",
	Objectives: summaryObjectives,
}, []string{"channel_definition_id"})

var forward_error_by_definition = promauto.NewSummaryVec(prometheus.SummaryOpts{
	Name:       "wb_forward_error",
	Help:       "The processing duration (milliseconds) of CRM events that failed to forward by channel definition id",
	Objectives: summaryObjectives,
}, []string{"channel_definition_id"})

var tracking_write_errors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "wb_tracking_write_errors",
	Help: "The number of swallowed tracking record write failures",
})

func SetDispatchSuccess(templateName string, duration float64) {
	dispatch_success_by_template.WithLabelValues(templateName).Observe(duration)
}

func SetDispatchError(templateName string, duration float64) {
	dispatch_error_by_template.WithLabelValues(templateName).Observe(duration)
}

func SetDispatchSuccessByChannel(channelUUID uuid.UUID, duration float64) {
	if monitorAllChannels || channelsToMonitor[channelUUID] {
		dispatch_success_by_channel.WithLabelValues(channelUUID.String()).Observe(duration)
	}
}

func SetDispatchErrorByChannel(channelUUID uuid.UUID, duration float64) {
	if monitorAllChannels || channelsToMonitor[channelUUID] {
		dispatch_error_by_channel.WithLabelValues(channelUUID.String()).Observe(duration)
	}
}

func SetForwardSuccess(channelDefinitionID string, duration float64) {
	forward_success_by_definition.WithLabelValues(channelDefinitionID).Observe(duration)
}

func SetForwardError(channelDefinitionID string, duration float64) {
	forward_error_by_definition.WithLabelValues(channelDefinitionID).Observe(duration)
}

func IncTrackingWriteError() {
	tracking_write_errors.Inc()
}
