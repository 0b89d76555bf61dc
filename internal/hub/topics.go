package hub

// Topic names shared by publishers and the subscription endpoint.

const TopicPresence = "presence"

func TopicConversation(convID string) string { return "conversation:" + convID }

func TopicPendingRequests(userID string) string { return "requests:pending:" + userID }

func TopicResolvedRequests(userID string) string { return "requests:resolved:" + userID }

func TopicNotifications(userID string) string { return "notifications:" + userID }
